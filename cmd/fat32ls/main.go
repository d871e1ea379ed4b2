package main

import (
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/urfave/cli/v2"

	fat32 "github.com/arrowfs/fat32"
	"github.com/arrowfs/fat32/blockdev"
	"github.com/arrowfs/fat32/dirent"
)

const defaultSectorSize = 512

func main() {
	app := cli.App{
		Usage:     "List a directory inside a FAT32 volume image",
		ArgsUsage: "IMAGE_FILE [PATH]",
		Action:    listDirectory,
		Flags: []cli.Flag{
			&cli.UintFlag{
				Name:  "sector-size",
				Value: defaultSectorSize,
				Usage: "bytes per sector of the image file",
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("fatal error: %s", err.Error())
	}
}

func listDirectory(c *cli.Context) error {
	if c.Args().Len() < 1 {
		return cli.Exit("expected an image file argument", 1)
	}
	imagePath := c.Args().Get(0)

	path := "/"
	if c.Args().Len() >= 2 {
		path = c.Args().Get(1)
	}

	f, err := os.OpenFile(imagePath, os.O_RDWR, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	sectorSize := uint(c.Uint("sector-size"))
	sectorCount := uint(info.Size()) / sectorSize
	dev := blockdev.NewFileDevice(f, sectorSize, sectorCount)

	v, err := fat32.Mount(dev, 0)
	if err != nil {
		return err
	}

	entry, err := v.GetEntry(path)
	if err != nil {
		if errors.Is(err, fat32.ErrNotFound) || errors.Is(err, fat32.ErrNotADirectory) {
			return cli.Exit(fmt.Sprintf("no such file or directory: %s", path), 1)
		}
		return err
	}

	if !entry.IsDir() {
		printStat(v, entry.Filename, entry)
		return nil
	}

	listing, err := v.ListDir(entry)
	if err != nil {
		return err
	}
	for _, de := range listing {
		printListEntry(de)
	}
	return nil
}

func printListEntry(de dirent.DirListEntry) {
	kind := "-"
	if de.Attribute&dirent.AttrDirectory != 0 {
		kind = "d"
	}
	fmt.Printf("%s %10d %s\n", kind, de.FileSize, de.Name)
}

func printStat(v *fat32.Volume, name string, e *dirent.Entry) {
	st := v.Stat(e)
	fmt.Printf("%-10d %s %s\n", st.Size, st.Mode, name)
}
