package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"wyrmhole/config"
	"wyrmhole/network"
	"wyrmhole/storage"
)

func newApp() *cli.App {
	return &cli.App{
		Name:  "wyrmhole",
		Usage: "send files and folders to another computer with a short code",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "debug", Usage: "log at debug level"},
		},
		Commands: []*cli.Command{
			sendCommand(),
			receiveCommand(),
			historyCommand(),
			exportCommand(),
			relayCheckCommand(),
			settingsCommand(),
		},
	}
}

func sendCommand() *cli.Command {
	return &cli.Command{
		Name:      "send",
		Usage:     "send one or more files or folders",
		ArgsUsage: "PATH...",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "name", Usage: "folder name used when several paths are packed together"},
		},
		Action: func(c *cli.Context) error {
			paths := c.Args().Slice()
			if len(paths) == 0 {
				return cli.Exit("send needs at least one path", 2)
			}

			rt, err := openServices(c)
			if err != nil {
				return err
			}
			defer rt.close()

			summary, err := rt.engine.BeginSend(c.Context, paths, uuid.NewString(), c.String("name"))
			if err != nil {
				return err
			}
			fmt.Println(summary)
			return nil
		},
	}
}

func receiveCommand() *cli.Command {
	return &cli.Command{
		Name:      "receive",
		Usage:     "receive a file using the code shown by the sender",
		ArgsUsage: "CODE",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "yes", Aliases: []string{"y"}, Usage: "accept the offer without asking"},
		},
		Action: func(c *cli.Context) error {
			rt, err := openServices(c)
			if err != nil {
				return err
			}
			defer rt.close()

			offer, err := rt.engine.BeginReceive(c.Context, strings.Join(c.Args().Slice(), " "), uuid.NewString())
			if err != nil {
				return err
			}

			fmt.Printf("Receiving %s (%d bytes)\n", offer.FileName, offer.FileSize)
			if !c.Bool("yes") && !confirm(os.Stdin, os.Stdout, "Accept? [y/N] ") {
				if err := rt.engine.DenyOffer(offer.ID); err != nil {
					return err
				}
				fmt.Println("Transfer rejected")
				return nil
			}

			summary, err := rt.engine.AcceptOffer(c.Context, offer.ID)
			if err != nil {
				return err
			}
			fmt.Println(summary)
			return nil
		},
	}
}

func confirm(in io.Reader, out io.Writer, prompt string) bool {
	fmt.Fprint(out, prompt)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	default:
		return false
	}
}

func historyCommand() *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "list completed transfers",
		Subcommands: []*cli.Command{
			{
				Name:      "show",
				Usage:     "print one history record as JSON",
				ArgsUsage: "sent|received ID",
				Action: func(c *cli.Context) error {
					if c.Args().Len() != 2 {
						return cli.Exit("history show needs sent|received and an ID", 2)
					}
					rt, err := openStore(c)
					if err != nil {
						return err
					}
					defer rt.close()
					return showRecord(rt.store, c.Args().Get(0), c.Args().Get(1), os.Stdout)
				},
			},
			{
				Name:  storage.HistorySent,
				Usage: "list sent files",
				Flags: []cli.Flag{limitFlag()},
				Action: func(c *cli.Context) error {
					rt, err := openStore(c)
					if err != nil {
						return err
					}
					defer rt.close()

					records, err := rt.store.ListSentFiles(storage.ListOptions{Limit: c.Int("limit")})
					if err != nil {
						return err
					}
					w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
					fmt.Fprintln(w, "ID\tSENT\tNAME\tSIZE\tCODE")
					for _, r := range records {
						fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", r.ID, r.SendTime.Format(time.DateTime), joinName(r.FileName, r.FileExtension), r.FileSize, r.ConnectionCode)
					}
					return w.Flush()
				},
			},
			{
				Name:  storage.HistoryReceived,
				Usage: "list received files",
				Flags: []cli.Flag{limitFlag()},
				Action: func(c *cli.Context) error {
					rt, err := openStore(c)
					if err != nil {
						return err
					}
					defer rt.close()

					records, err := rt.store.ListReceivedFiles(storage.ListOptions{Limit: c.Int("limit")})
					if err != nil {
						return err
					}
					w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
					fmt.Fprintln(w, "ID\tRECEIVED\tNAME\tSIZE\tCONNECTION\tFOLDER")
					for _, r := range records {
						fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n", r.ID, r.DownloadTime.Format(time.DateTime), joinName(r.FileName, r.FileExtension), r.FileSize, r.ConnectionType, r.DownloadURL)
					}
					return w.Flush()
				},
			},
		},
	}
}

// showRecord writes the history record kind/id to w as indented JSON.
func showRecord(store *storage.Store, kind, id string, w io.Writer) error {
	var record any
	switch kind {
	case storage.HistorySent:
		sent, err := store.GetSentFile(id)
		if err != nil {
			return fmt.Errorf("sent record %q: %w", id, err)
		}
		record = sent
	case storage.HistoryReceived:
		received, err := store.GetReceivedFile(id)
		if err != nil {
			return fmt.Errorf("received record %q: %w", id, err)
		}
		record = received
	default:
		return fmt.Errorf("unknown history %q, want sent or received", kind)
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(record)
}

func limitFlag() cli.Flag {
	return &cli.IntFlag{Name: "limit", Value: 20, Usage: "maximum number of records, 0 for all"}
}

func joinName(stem, ext string) string {
	if ext == "" {
		return stem
	}
	return stem + "." + ext
}

func exportCommand() *cli.Command {
	return &cli.Command{
		Name:      "export",
		Usage:     "export transfer history as JSON",
		ArgsUsage: "sent|received",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "write to this file instead of stdout"},
		},
		Action: func(c *cli.Context) error {
			kind := c.Args().First()
			rt, err := openStore(c)
			if err != nil {
				return err
			}
			defer rt.close()

			var w io.Writer = os.Stdout
			if path := c.String("out"); path != "" {
				file, err := os.Create(path)
				if err != nil {
					return fmt.Errorf("create export file: %w", err)
				}
				defer file.Close()
				w = file
			}

			switch kind {
			case storage.HistorySent:
				return rt.store.ExportSentJSON(w)
			case storage.HistoryReceived:
				return rt.store.ExportReceivedJSON(w)
			default:
				return cli.Exit(fmt.Sprintf("unknown history %q, want sent or received", kind), 2)
			}
		},
	}
}

func relayCheckCommand() *cli.Command {
	return &cli.Command{
		Name:      "relay-check",
		Usage:     "check that a relay server is reachable",
		ArgsUsage: "[URL]",
		Action: func(c *cli.Context) error {
			cfg, _, err := loadSettings(c)
			if err != nil {
				return err
			}
			url := c.Args().First()
			if url == "" {
				url = cfg.EffectiveRelayURL()
			}

			elapsed, err := network.TestRelay(c.Context, url)
			if err != nil {
				return err
			}
			logrus.WithFields(logrus.Fields{"relay": url, "elapsed": elapsed}).Debug("Relay reachable")
			fmt.Printf("Relay %s reachable in %s\n", url, elapsed.Round(time.Millisecond))
			return nil
		},
	}
}

func settingsCommand() *cli.Command {
	return &cli.Command{
		Name:  "settings",
		Usage: "show or change settings",
		Subcommands: []*cli.Command{
			{
				Name:  "show",
				Usage: "print the current settings",
				Action: func(c *cli.Context) error {
					cfg, cfgPath, err := loadSettings(c)
					if err != nil {
						return err
					}
					fmt.Printf("# %s\n", cfgPath)
					encoder := json.NewEncoder(os.Stdout)
					encoder.SetIndent("", "  ")
					return encoder.Encode(cfg)
				},
			},
			{
				Name:      "set",
				Usage:     "change one setting",
				ArgsUsage: "KEY VALUE",
				Action: func(c *cli.Context) error {
					if c.Args().Len() != 2 {
						return cli.Exit("settings set needs KEY and VALUE", 2)
					}
					cfg, cfgPath, err := loadSettings(c)
					if err != nil {
						return err
					}
					if err := cfg.Set(c.Args().Get(0), c.Args().Get(1)); err != nil {
						return err
					}
					if err := config.Save(cfgPath, cfg); err != nil {
						return err
					}
					fmt.Printf("%s updated\n", c.Args().Get(0))
					return nil
				},
			},
		},
	}
}
