package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/23skdu/longbow-bodkin/internal/safetensors"
)

var file = flag.String("file", "", "Path to a safetensors container")

func main() {
	flag.Parse()
	if *file == "" {
		fmt.Fprintln(os.Stderr, "Error: --file flag is required")
		flag.Usage()
		os.Exit(1)
	}

	r, err := safetensors.Open(*file)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer r.Close()

	var total int64
	for _, name := range r.Names() {
		info, _ := r.Info(name)
		bytes := info.DataOffsets[1] - info.DataOffsets[0]
		total += bytes
		fmt.Printf("%-64s %-5s %-20v %12d bytes\n", name, info.Dtype, info.Shape, bytes)
	}
	fmt.Printf("\n%d tensors, %d data bytes\n", len(r.Names()), total)
}
