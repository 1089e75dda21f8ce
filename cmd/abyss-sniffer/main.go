package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"abyss-sniffer/internal/broadcast"
	"abyss-sniffer/internal/capture"
	"abyss-sniffer/internal/config"
	"abyss-sniffer/internal/engine/aggregator"
	"abyss-sniffer/internal/engine/ring"
	"abyss-sniffer/internal/metrics"
	"abyss-sniffer/internal/mirror"
	"abyss-sniffer/internal/model"
)

// statusInterval is how many supervisor ticks pass between status lines.
const statusInterval = 10

func main() {
	var (
		ifaceFlag  string
		portFlag   int
		readFlag   string
		configFlag string
		listFlag   bool
		helpFlag   bool
	)
	flag.StringVar(&ifaceFlag, "i", "", "interface to capture from")
	flag.StringVar(&ifaceFlag, "interface", "", "interface to capture from")
	flag.IntVar(&portFlag, "p", 0, "WebSocket server port")
	flag.IntVar(&portFlag, "port", 0, "WebSocket server port")
	flag.StringVar(&readFlag, "r", "", "replay packets from a pcap file")
	flag.StringVar(&readFlag, "read", "", "replay packets from a pcap file")
	flag.StringVar(&configFlag, "c", "", "YAML config file")
	flag.StringVar(&configFlag, "config", "", "YAML config file")
	flag.BoolVar(&listFlag, "l", false, "list capture interfaces and exit")
	flag.BoolVar(&listFlag, "list", false, "list capture interfaces and exit")
	flag.BoolVar(&helpFlag, "h", false, "show help and exit")
	flag.BoolVar(&helpFlag, "help", false, "show help and exit")
	flag.Usage = printHelp
	flag.Parse()

	if helpFlag {
		printHelp()
		return
	}
	if listFlag {
		printInterfaces()
		return
	}

	cfg := config.Default()
	if configFlag != "" {
		loaded, err := config.Load(configFlag)
		if err != nil {
			log.Fatalf("[abyss] %v", err)
		}
		cfg = loaded
	}
	if ifaceFlag != "" {
		cfg.Interface = ifaceFlag
	}
	if portFlag != 0 {
		cfg.Port = portFlag
	}
	if readFlag != "" {
		cfg.ReadFile = readFlag
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("[abyss] invalid configuration: %v", err)
	}

	log.Printf("[abyss] abyss-sniffer v0.1.0 starting")

	packetRing := new(ring.PacketRing)

	var engine *capture.Engine
	if cfg.ReadFile != "" {
		engine = capture.NewReplay(cfg.ReadFile, packetRing)
	} else {
		iface := cfg.Interface
		if iface == "" {
			detected, err := capture.AutoDetect()
			if err != nil {
				log.Fatalf("[abyss] %v", err)
			}
			log.Printf("[abyss] auto-detected interface: %s", detected)
			iface = detected
		}
		engine = capture.NewEngine(iface, packetRing)
	}
	if err := engine.Open(); err != nil {
		log.Fatalf("[abyss] %v", err)
	}
	defer engine.Close()

	broadcaster := broadcast.New(cfg.Port)

	collector := metrics.New(metrics.Pipeline{
		PacketsCaptured: engine.PacketsCaptured,
		CaptureDrops:    engine.PacketsDropped,
		RingDrops:       packetRing.Drops,
		RingFill:        packetRing.FillRatio,
		Clients:         broadcaster.ClientCount,
		FramesSent:      broadcaster.FramesSent,
	})
	broadcaster.Handle("/metrics", collector.Handler())

	var frameMirror *mirror.Publisher
	if cfg.Mirror.Enabled {
		m, err := mirror.NewPublisher(cfg.Mirror.URL, cfg.Mirror.Subject)
		if err != nil {
			log.Printf("[abyss] telemetry mirror disabled: %v", err)
		} else {
			frameMirror = m
			defer frameMirror.Close()
		}
	}

	agg := aggregator.New(cfg, packetRing, func(frame *model.TelemetryFrame) {
		broadcaster.Broadcast(frame)
		collector.ActiveFlows.Set(float64(frame.Net.ActiveFlows))
		if frameMirror != nil {
			frameMirror.PublishFrame(frame)
		}
	})

	if err := broadcaster.Start(); err != nil {
		log.Fatalf("[abyss] %v", err)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		engine.Run()
	}()
	go func() {
		defer wg.Done()
		agg.Run()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	log.Printf("[abyss] pipeline online, Ctrl+C to stop")

	// Supervisor loop: sample health once a second, log status every ten.
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	ticks := 0
	for running := true; running; {
		select {
		case <-ticker.C:
			agg.UpdateHealth(engine.PacketsDropped(), packetRing.FillRatio())
			if ticks++; ticks%statusInterval == 0 {
				log.Printf("[abyss] status: %d packets captured, %d ring drops, %d clients, %d frames sent",
					engine.PacketsCaptured(), packetRing.Drops(), broadcaster.ClientCount(), broadcaster.FramesSent())
			}
		case sig := <-sigChan:
			log.Printf("[abyss] %v received, shutting down", sig)
			running = false
		}
	}

	// Producer first, then the consumer, then the server.
	engine.Stop()
	agg.Stop()
	wg.Wait()
	broadcaster.Stop()

	log.Printf("[abyss] done: %d packets captured, %d frames sent",
		engine.PacketsCaptured(), broadcaster.FramesSent())
}

func printHelp() {
	fmt.Fprintf(os.Stdout, `abyss-sniffer - live network telemetry over WebSocket

Usage: abyss-sniffer [options]

Options:
  -i, --interface <name>   network interface to capture from
                           (default: auto-detect the best interface)
  -p, --port <num>         WebSocket server port (default: 9770)
  -r, --read <file>        replay packets from a pcap file
  -c, --config <file>      load settings from a YAML file
  -l, --list               list available capture interfaces
  -h, --help               show this help

Examples:
  abyss-sniffer                     auto-detect interface, port 9770
  abyss-sniffer -i eth0             capture from eth0
  abyss-sniffer -i "Wi-Fi" -p 8080  custom interface and port
  abyss-sniffer -r trace.pcap       replay a recorded capture

Notes:
  - live capture needs elevated permissions (sudo or Administrator)
  - telemetry frames are broadcast at roughly 60 Hz
  - point the visualizer at ws://127.0.0.1:<port>/
  - on Windows, install Npcap from https://npcap.com
`)
}

func printInterfaces() {
	ifaces, err := capture.ListInterfaces()
	if err != nil {
		log.Fatalf("[abyss] %v", err)
	}
	if len(ifaces) == 0 {
		fmt.Fprintln(os.Stderr, "no interfaces found")
		fmt.Fprintln(os.Stderr, "check capture permissions and that libpcap is installed")
		return
	}

	fmt.Println("Available capture interfaces:")
	fmt.Printf("  %2s  %-24s %-9s %-5s %s\n", "#", "NAME", "STATUS", "IPV4", "DESCRIPTION")
	for i, iface := range ifaces {
		status := "down"
		switch {
		case iface.Loopback:
			status = "loopback"
		case iface.Up:
			status = "up"
		}
		ipv4 := "-"
		if iface.HasIPv4 {
			ipv4 = "yes"
		}
		name := iface.Name
		if len(name) > 24 {
			name = name[:21] + "..."
		}
		fmt.Printf("  %2d  %-24s %-9s %-5s %s\n", i+1, name, status, ipv4, iface.Description)
	}
	fmt.Println("\nUse -i <name> to capture from a specific interface.")
}
