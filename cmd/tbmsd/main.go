// Command tbmsd wires the core driver to a real UART link and exposes
// its state over a read-only HTTP telemetry endpoint. It is example
// scaffolding, not part of the core driver itself.
package main

import (
	"flag"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/evbms/tbms"
	"github.com/evbms/tbms/cmd/tbmsd/httpapi"
	"github.com/evbms/tbms/cmd/tbmsd/transport"
)

func main() {
	configPath := flag.String("config", "", "path to an INI configuration file")
	verbose := flag.Bool("v", false, "enable debug logging")
	flag.Parse()

	if *verbose {
		log.SetLevel(log.DebugLevel)
	}

	cfg, err := loadDaemonConfig(*configPath)
	if err != nil {
		log.Fatalf("[MAIN] loading config: %v", err)
	}

	link, err := transport.Open(cfg.Device)
	if err != nil {
		log.Fatalf("[MAIN] opening serial link: %v", err)
	}
	defer link.Close()

	b := tbms.NewBMS(cfg.Core)

	server := httpapi.New(b)
	go func() {
		if err := server.ListenAndServe(cfg.HTTPAddr); err != nil {
			log.Errorf("[MAIN] telemetry server exited: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-sig:
			log.Info("[MAIN] shutting down")
			return
		case now := <-ticker.C:
			b.Update(now.Sub(last))
			last = now
			pumpTransport(b, link)
		}
	}
}

// pumpTransport moves whatever the driver has queued for transmission
// out onto the link, and feeds back at most one received byte per
// tick: the session stops accepting bytes after each one until its
// next Update.
func pumpTransport(b *tbms.BMS, link io.ReadWriter) {
	if b.TxAvailable() {
		if _, err := link.Write(b.TxBuf()); err != nil {
			log.Warnf("[MAIN] write error: %v", err)
		}
		b.TxFlush()
	}

	buf := make([]byte, 1)
	for b.RxAvailable() {
		n, err := link.Read(buf)
		if err != nil || n == 0 {
			return
		}
		b.SetRx(buf[0])
	}
}
