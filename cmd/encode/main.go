// Command encode prints the URL-safe payload for one or more image files,
// ready to be appended to the server's /go/ route.
package main

import (
	"flag"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"log"
	"os"
	"strings"

	"github.com/Brownie44l1/sketch-api/internal/sketch"
)

func main() {
	baseURL := flag.String("url", "", "prefix each payload with this server URL, e.g. http://localhost:3001")
	flag.Parse()

	if flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "usage: encode [-url http://host:port] image.png...")
		os.Exit(2)
	}

	for _, path := range flag.Args() {
		payload, err := encodeFile(path)
		if err != nil {
			log.Fatalf("%s: %v", path, err)
		}
		if *baseURL != "" {
			fmt.Printf("%s/go/%s\n", strings.TrimRight(*baseURL, "/"), payload)
		} else {
			fmt.Println(payload)
		}
	}
}

func encodeFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return "", fmt.Errorf("failed to decode image: %w", err)
	}
	return sketch.Encode(img)
}
