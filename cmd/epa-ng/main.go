package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/grailbio/base/grail"
	"github.com/grailbio/base/log"

	"github.com/epa-ng/epa-ng/binstore"
	"github.com/epa-ng/epa-ng/encoding/fasta"
	"github.com/epa-ng/epa-ng/jplace"
	"github.com/epa-ng/epa-ng/lookup"
	"github.com/epa-ng/epa-ng/model"
	"github.com/epa-ng/epa-ng/msastream"
	"github.com/epa-ng/epa-ng/placement"
	"github.com/epa-ng/epa-ng/tree"
)

var (
	refTreePath  = flag.String("t", "", "Reference Newick tree (rooted or unrooted)")
	refMSAPath   = flag.String("s", "", "Reference MSA (FASTA; Phylip is not parsed)")
	queryPath    = flag.String("q", "", "Query MSA (text FASTA, optionally gzipped; 4-bit FASTA is not read)")
	outDir       = flag.String("w", ".", "Output directory")
	binLoadPath  = flag.String("b", "", "Binary store to load; opening it is checked, but building a reference tree from it is not supported and exits with an error")
	binDumpOnly  = flag.Bool("B", false, "Dump partition to binary store then exit")
	optimizeRef  = flag.Bool("O", false, "Optimize reference branch lengths before placing (model parameters stay fixed)")
	accumThresh  = flag.Float64("g", 0.99, "Accumulated-threshold prescoring cutoff")
	pctThresh    = flag.Float64("G", 0, "Percentage-prescoring cutoff (0 disables, overrides -g)")
	supportMin   = flag.Float64("l", 0, "Support threshold (non-accumulated)")
	supportAccum = flag.Float64("L", 0, "Support threshold applied as the same per-placement LWR cutoff as -l (not accumulated); overrides -l")
	premask      = flag.Bool("r", false, "Enable premasking")
	signKeyPath  = flag.String("sign-key", "", "HS256 key file for signed jplace invocation metadata")
	threads      = flag.Int("threads", 0, "Worker thread count; 0 = runtime.NumCPU()")
	memBudget    = flag.String("memory", "", "Memory budget (e.g. 12G, 512M, auto); empty = unconstrained")
)

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: %s -t tree.nwk -s ref.fasta -q query.fasta -w outdir\n", os.Args[0])
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	shutdown := grail.Init()
	defer shutdown()

	if err := run(); err != nil {
		log.Fatalf("epa-ng: %v", err)
	}
}

func run() error {
	budgetBytes, err := parseMemoryBudget(*memBudget)
	if err != nil {
		return err
	}

	rt, err := loadReferenceTree(budgetBytes)
	if err != nil {
		return err
	}
	if *optimizeRef {
		logl := rt.OptimizeBranchLengths()
		log.Printf("reference branch-length optimization converged at logl=%g", logl)
	}

	if *binDumpOnly {
		dumpPath := filepath.Join(*outDir, "epa-ng.bin")
		if err := binstore.Dump(rt, dumpPath); err != nil {
			return err
		}
		log.Printf("dumped partition to %s", dumpPath)
		return nil
	}

	if *queryPath == "" {
		return nil
	}
	querySrc, err := openQuerySource()
	if err != nil {
		return err
	}

	opts := placement.DefaultOptions
	opts.Premasking = *premask
	opts.OptBranches = true
	opts.Threads = *threads
	opts.MemorySaver = budgetBytes != 0
	if *pctThresh > 0 {
		opts.Mode = placement.ModePercentage
		opts.Threshold = *pctThresh
	} else {
		opts.Mode = placement.ModeAccumulatedThreshold
		opts.Threshold = *accumThresh
	}
	if *supportAccum > 0 {
		opts.SupportThresh = *supportAccum
	} else if *supportMin > 0 {
		opts.SupportThresh = *supportMin
	}

	alphabetSize := rt.Partition.States() + 1
	store := lookup.New(rt.Tree.EdgeCount, alphabetSize, rt.Partition.Sites)
	driver := &placement.Driver{Ref: rt, Lookup: store, Opts: opts}

	signKey, err := readSignKey()
	if err != nil {
		return err
	}
	invocation := strings.Join(os.Args, " ")
	outPath := filepath.Join(*outDir, "epa_result.jplace")
	writer, err := jplace.Create(outPath, rt.Tree, invocation, signKey)
	if err != nil {
		return err
	}

	const chunkSize = 1000
	seqID := 0
	for {
		chunk, n, err := querySrc.ReadNext(chunkSize)
		if err != nil {
			return err
		}
		if n == 0 {
			break
		}
		s, err := driver.RunChunk(chunk, seqID)
		if err != nil {
			return err
		}
		if err := writer.Write(s); err != nil {
			return err
		}
		seqID += n
	}
	return writer.Close()
}

func loadReferenceTree(memBudgetBytes int64) (*tree.ReferenceTree, error) {
	m, err := model.NewGTR([6]float64{1, 1, 1, 1, 1, 1}, [4]float64{0.25, 0.25, 0.25, 0.25}, 4, 1.0)
	if err != nil {
		return nil, err
	}

	if *binLoadPath != "" {
		store, err := binstore.Open(*binLoadPath)
		if err != nil {
			return nil, err
		}
		defer store.Close()
		return nil, fmt.Errorf("loading a reference tree directly from -b is not yet wired into tree.ReferenceTree construction")
	}

	newickBytes, err := os.ReadFile(*refTreePath)
	if err != nil {
		return nil, err
	}
	msa, err := readFasta(*refMSAPath)
	if err != nil {
		return nil, err
	}
	return tree.FromNewick(string(newickBytes), msa, tree.Params{
		Model:                m,
		EmpiricalFrequencies: true,
		Premasking:           *premask,
		MemoryBudget:         slottableCLVCount(memBudgetBytes, len(msa), msaWidth(msa), m.Alphabet.States()),
	})
}

// msaWidth returns the aligned width of any row of msa (every row is the
// same length by construction), or 0 for an empty alignment.
func msaWidth(msa map[string]string) int {
	for _, seq := range msa {
		return len(seq)
	}
	return 0
}

// slottableCLVCount converts a parsed --memory budget into the number of CLV
// slots the Memory Saver (C4) may keep resident at once, per §4.4's sizing:
// each slot costs sites * states * 8 bytes (one float64 per site/state
// cell). budgetBytes == 0 disables the Memory Saver entirely; -1 ("auto")
// reserves a small multiple of §4.4's own lower bound (enough CLVs to finish
// any partial_compute_clvs call without starving it) rather than trying to
// fit a footprint estimate against the host's actual available memory.
func slottableCLVCount(budgetBytes int64, tipCount, sites, states int) int {
	if budgetBytes == 0 {
		return 0
	}
	reserve := 2
	for n := 1; n < tipCount; n *= 2 {
		reserve++
	}
	if budgetBytes < 0 {
		return reserve * 4
	}
	bytesPerCLV := int64(sites) * int64(states) * 8
	if bytesPerCLV <= 0 {
		return reserve
	}
	n := int(budgetBytes / bytesPerCLV)
	if n < reserve {
		n = reserve
	}
	return n
}

func openQuerySource() (*msastream.Stream, error) {
	f, err := os.Open(*queryPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	src, err := msastream.OpenTextFasta(f)
	if err != nil {
		return nil, err
	}
	return msastream.New(src, 1, 0, true), nil
}

// readFasta loads a reference MSA entirely into memory keyed by tip label,
// delegating the actual parse to encoding/fasta.Parse rather than
// re-scanning FASTA records by hand.
func readFasta(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	msa, _, err := fasta.Parse(f)
	return msa, err
}

func readSignKey() ([]byte, error) {
	if *signKeyPath == "" {
		return nil, nil
	}
	return os.ReadFile(*signKeyPath)
}

// parseMemoryBudget parses a flag value like "12G"/"512M"/"auto" into a byte
// count, or -1 for "auto", per §6's Environment note. slottableCLVCount
// converts the result into the Memory Saver's actual slot budget.
func parseMemoryBudget(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	if s == "auto" {
		return -1, nil
	}
	unit := int64(1)
	switch s[len(s)-1] {
	case 'G', 'g':
		unit = 1 << 30
		s = s[:len(s)-1]
	case 'M', 'm':
		unit = 1 << 20
		s = s[:len(s)-1]
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, err
	}
	return n * unit, nil
}
