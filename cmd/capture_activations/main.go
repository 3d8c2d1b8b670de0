package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/23skdu/longbow-bodkin/internal/arrowio"
	"github.com/23skdu/longbow-bodkin/internal/engine"
	"github.com/23skdu/longbow-bodkin/internal/logger"
)

var (
	modelDir   = flag.String("model", "", "Path to model directory")
	tokens     = flag.String("tokens", "", "Comma-separated prompt token ids")
	outPath    = flag.String("out", "logits.arrow", "Arrow IPC output file")
	flightAddr = flag.String("flight", "", "Optional Arrow Flight endpoint to publish to")
)

// Captures per-step logits (and activation stats to stderr) while
// decoding a prompt, for offline comparison against a reference run.
func main() {
	flag.Parse()
	logger.Setup("info", "console")

	if *modelDir == "" || *tokens == "" {
		fmt.Fprintln(os.Stderr, "Error: --model and --tokens are required")
		flag.Usage()
		os.Exit(1)
	}

	var prompt []int32
	for _, p := range strings.Split(*tokens, ",") {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: bad token id %q\n", p)
			os.Exit(1)
		}
		prompt = append(prompt, int32(v))
	}

	cfg, weights, err := engine.LoadModel(*modelDir)
	if err != nil {
		logger.Log.Error("load model", "err", err)
		os.Exit(1)
	}
	defer weights.Close()

	ctx, err := engine.NewCtx(cfg, weights, 0)
	if err != nil {
		logger.Log.Error("create context", "err", err)
		os.Exit(1)
	}
	tracer := ctx.EnableTrace()

	fw, err := arrowio.NewFileWriter(*outPath)
	if err != nil {
		logger.Log.Error("open output", "err", err)
		os.Exit(1)
	}

	mem := memory.NewGoAllocator()
	var published []arrow.Record

	for pos, t := range prompt {
		logits, err := ctx.ForwardDecode(t, int64(pos))
		if err != nil {
			logger.Log.Error("decode", "pos", pos, "err", err)
			os.Exit(1)
		}
		if err := fw.Append(int64(pos), t, logits); err != nil {
			logger.Log.Error("append", "pos", pos, "err", err)
			os.Exit(1)
		}
		if *flightAddr != "" {
			published = append(published, logitsRecord(mem, int64(pos), t, logits))
		}
	}

	for _, s := range tracer.Stats() {
		fmt.Fprintf(os.Stderr, "%-10s layer=%-3d pos=%-4d min=%.4f max=%.4f mean=%.4f rms=%.4f nans=%d infs=%d\n",
			s.Name, s.Layer, s.Pos, s.Min, s.Max, s.Mean, s.RMS, s.NaNs, s.Infs)
	}

	if err := fw.Close(); err != nil {
		logger.Log.Error("close output", "err", err)
		os.Exit(1)
	}
	logger.Log.Info("capture written", "path", *outPath, "steps", len(prompt))

	if *flightAddr != "" {
		pub := arrowio.NewPublisher(*flightAddr)
		if err := pub.Connect(); err != nil {
			logger.Log.Error("flight connect", "err", err)
			os.Exit(1)
		}
		defer pub.Close()
		if err := pub.Publish(context.Background(), "bodkin/logits", published); err != nil {
			logger.Log.Error("flight publish", "err", err)
			os.Exit(1)
		}
		for _, rec := range published {
			rec.Release()
		}
	}
}

func logitsRecord(mem memory.Allocator, pos int64, token int32, logits []float32) arrow.Record {
	b := array.NewRecordBuilder(mem, arrowio.LogitsSchema())
	defer b.Release()
	b.Field(0).(*array.Int64Builder).Append(pos)
	b.Field(1).(*array.Int32Builder).Append(token)
	lb := b.Field(2).(*array.ListBuilder)
	lb.Append(true)
	lb.ValueBuilder().(*array.Float32Builder).AppendValues(logits, nil)
	return b.NewRecord()
}
