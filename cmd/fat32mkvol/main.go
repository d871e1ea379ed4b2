package main

import (
	"log"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/arrowfs/fat32/blockdev"
	"github.com/arrowfs/fat32/volfmt"
)

func main() {
	app := cli.App{
		Usage: "Format a new FAT32 volume image",
		Commands: []*cli.Command{
			{
				Name:      "format",
				Usage:     "Create a blank, formatted FAT32 image file",
				ArgsUsage: "OUTPUT_FILE",
				Action:    formatImage,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "preset",
						Usage:    "named volume geometry preset to format with",
						Required: true,
					},
				},
			},
			{
				Name:   "presets",
				Usage:  "List available geometry presets",
				Action: listPresets,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("fatal error: %s", err.Error())
	}
}

func formatImage(c *cli.Context) error {
	if c.Args().Len() != 1 {
		return cli.Exit("expected exactly one output file argument", 1)
	}
	outPath := c.Args().Get(0)

	preset, err := volfmt.GetPreset(c.String("preset"))
	if err != nil {
		return err
	}

	image := make([]byte, preset.TotalSectors*preset.BytesPerSector)
	dev, err := blockdev.NewMemDevice(image, preset.BytesPerSector)
	if err != nil {
		return err
	}

	if _, err := volfmt.Format(dev, preset); err != nil {
		return err
	}

	return os.WriteFile(outPath, image, 0o644)
}

func listPresets(c *cli.Context) error {
	for _, p := range volfmt.Presets() {
		log.Printf("%-16s %-24s %d sectors, %d bytes/sector, %d sectors/cluster",
			p.Slug, p.Name, p.TotalSectors, p.BytesPerSector, p.SectorsPerCluster)
	}
	return nil
}
