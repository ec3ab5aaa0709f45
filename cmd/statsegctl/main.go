// Command statsegctl is the operator-facing front end to this module, the
// way shmtool is the CLI front end to package shm: create a segment and
// serve it over a handoff socket, or connect to one and dump its
// directory.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/ghetzel/cli"

	"github.com/quarkline/statseg/collector"
	"github.com/quarkline/statseg/config"
	"github.com/quarkline/statseg/directory"
	"github.com/quarkline/statseg/handoff"
	"github.com/quarkline/statseg/provider"
	"github.com/quarkline/statseg/registry"
	"github.com/quarkline/statseg/segment"
	"github.com/quarkline/statseg/statsclient"
)

const DefaultLogLevel = `info`

func main() {
	app := cli.NewApp()
	app.Name = `statsegctl`
	app.Usage = `a command line utility for creating and inspecting statseg shared-memory segments`
	app.Version = fmt.Sprintf("segment-layout-v%d", segment.Version)
	app.EnableBashCompletion = false
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:   `log-level, L`,
			Usage:  `Level of logging verbosity`,
			Value:  DefaultLogLevel,
			EnvVar: `LOGLEVEL`,
		},
	}

	app.Before = func(c *cli.Context) error {
		if lvl := c.String(`log-level`); lvl != `` {
			if l, err := log.ParseLevel(lvl); err == nil {
				log.SetLevel(l)
			} else {
				log.Fatalf("Invalid log level '%s'", lvl)
				return err
			}
		}
		return nil
	}

	app.Commands = []cli.Command{
		{
			Name:      `create`,
			Usage:     `Create a segment, register a heartbeat, and serve it over a handoff socket until interrupted`,
			ArgsUsage: `SOCKET-PATH`,
			Flags: []cli.Flag{
				cli.IntFlag{
					Name:  `size, s`,
					Usage: `The size (in bytes) of the shared memory segment`,
				},
				cli.StringFlag{
					Name:  `options, O`,
					Usage: `Comma-separated key=value configuration options (spec §6.1)`,
				},
				cli.BoolFlag{
					Name:  `per-node-counters`,
					Usage: `Shorthand for -O per-node-counters=on`,
				},
			},
			Action: func(c *cli.Context) {
				sockPath := c.Args().First()
				if sockPath == `` {
					log.Fatalf("Must specify a socket path")
					return
				}

				options := c.String(`options`)
				if c.Bool(`per-node-counters`) {
					if options != `` {
						options += `,`
					}
					options += `per-node-counters=on`
				}

				cfg, err := config.Parse(`.`, options)
				if err != nil {
					log.Fatalf("Invalid configuration: %v", err)
					return
				}
				if size := c.Int(`size`); size > 0 {
					cfg.Size = size
				}
				cfg.SocketName = sockPath

				runCreate(cfg)
			},
		}, {
			Name:      `dump`,
			Usage:     `Connect to a running segment's handoff socket and print its directory`,
			ArgsUsage: `SOCKET-PATH`,
			Flags: []cli.Flag{
				cli.BoolFlag{
					Name:  `hash`,
					Usage: `Print the reader-reconstructed name index instead of the directory listing`,
				},
				cli.BoolFlag{
					Name:  `verbose, v`,
					Usage: `Include entry type and payload fields`,
				},
			},
			Action: func(c *cli.Context) {
				sockPath := c.Args().First()
				if sockPath == `` {
					log.Fatalf("Must specify a socket path")
					return
				}
				runDump(sockPath, c.Bool(`hash`), c.Bool(`verbose`))
			},
		}, {
			Name:      `connect`,
			Usage:     `Connect to a running segment's handoff socket and print its fd, then exit`,
			ArgsUsage: `SOCKET-PATH`,
			Action: func(c *cli.Context) {
				sockPath := c.Args().First()
				if sockPath == `` {
					log.Fatalf("Must specify a socket path")
					return
				}
				fd, err := handoff.Connect(sockPath)
				if err != nil {
					log.Fatalf("Failed to connect: %v", err)
					return
				}
				fmt.Printf("%d\n", fd)
				log.Infof("Received segment fd %d from %s", fd, sockPath)
			},
		},
	}

	app.Run(os.Args)
}

func runCreate(cfg config.Config) {
	seg, err := segment.Create(segment.Options{Size: cfg.Size, Name: "statsegctl"})
	if err != nil {
		log.Fatalf("Failed to create segment: %v", err)
		return
	}
	defer seg.Close()

	reg := registry.New(seg)
	pool := provider.New(reg)
	coll := collector.New(reg, pool, collector.Options{
		Interval:            cfg.UpdateInterval,
		NodeCountersEnabled: cfg.PerNodeCounters,
	})

	srv, err := handoff.Listen(cfg.SocketName, seg.Fd())
	if err != nil {
		log.Fatalf("Failed to listen on %s: %v", cfg.SocketName, err)
		return
	}
	defer srv.Close()

	log.Infof("Serving segment on %s (size=%d, update-interval=%s)", cfg.SocketName, seg.Size(), cfg.UpdateInterval)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		if err := srv.Serve(); err != nil {
			log.Errorf("Handoff server stopped: %v", err)
		}
	}()

	go func() {
		if err := coll.Run(ctx); err != nil && err != context.Canceled {
			log.Errorf("Collector stopped: %v", err)
		}
	}()

	<-sigCh
	log.Info("Shutting down")
}

func runDump(sockPath string, hash, verbose bool) {
	client, err := statsclient.Connect(sockPath)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
		return
	}
	defer client.Close()

	if hash {
		dumpHash(client)
		return
	}
	dumpDirectory(client, verbose)
}

func dumpDirectory(client *statsclient.Client, verbose bool) {
	_, err := client.Snapshot(func(dir directory.View, _ []byte) {
		for _, e := range dir.Snapshot() {
			if verbose {
				fmt.Printf("%-48s %-24s value=%v index=%d index1=%d index2=%d data_offset=%d\n",
					e.Name, e.Type, e.Value, e.Index, e.Index1, e.Index2, e.DataOffset)
			} else {
				fmt.Println(e.Name)
			}
		}
	})
	if err != nil {
		log.Fatalf("Failed to read directory: %v", err)
	}
}

func dumpHash(client *statsclient.Client) {
	_, err := client.Snapshot(func(dir directory.View, _ []byte) {
		for name, idx := range dir.ByName() {
			fmt.Printf("%-48s %d\n", name, idx)
		}
	})
	if err != nil {
		log.Fatalf("Failed to read directory: %v", err)
	}
}
