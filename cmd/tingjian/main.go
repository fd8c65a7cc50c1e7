package main

import (
	"context"
	"fmt"
	"os"

	"tingjian/internal/core"
)

// maxUploadDim caps the longer image dimension before upload.
const maxUploadDim = 1280

func main() {
	cmd, err := core.ParseArgs(os.Args[1:], os.Getenv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n\n", err)
		usage()
		os.Exit(1)
	}

	client := core.NewClient(cmd.Server, cmd.Token)
	ctx := context.Background()

	switch cmd.Mode {
	case core.ModeSnap:
		path := cmd.ImagePath
		if cmd.ImageDir != "" {
			path, err = core.NewestImage(cmd.ImageDir)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
		}

		data, err := os.ReadFile(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading %s: %v\n", path, err)
			os.Exit(1)
		}

		shrunk, err := core.ShrinkToJPEG(data, maxUploadDim)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error preparing %s: %v\n", path, err)
			os.Exit(1)
		}

		description, err := client.Snap(ctx, shrunk)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(description)

	case core.ModeAsk:
		answer, err := client.Ask(ctx, cmd.Question)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(answer)
	}
}

func usage() {
	fmt.Fprint(os.Stderr, `Usage:
  tingjian snap <image>      upload a photo and print its description
  tingjian snap --dir <dir>  upload the newest image in a directory
  tingjian ask [question]    ask about the most recent capture

Flags:
  --server <url>   server base URL (default http://localhost:9999, env TINGJIAN_SERVER)
  --token <token>  access token (env TINGJIAN_TOKEN)
`)
}
