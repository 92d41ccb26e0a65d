package main

import (
	"context"
	"eth2-verifier/beaconchain"
	"eth2-verifier/chain"
	"eth2-verifier/metrics"
	"eth2-verifier/report"
	"eth2-verifier/rpc"
	"eth2-verifier/sampler"
	"eth2-verifier/types"
	"eth2-verifier/utils"
	"eth2-verifier/verify"
	"eth2-verifier/workerpool"
	"flag"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

func main() {
	configPath := flag.String("config", "", "Path to the config file")
	network := flag.String("network", "", "Network to verify against (mainnet, hoodi, holesky); overrides the config")
	validator := flag.Uint64("validator", 0, "Validator index to verify")
	epoch := flag.Int64("epoch", -1, "Epoch to verify; defaults to a recently finalized epoch")
	startEpoch := flag.Int64("start-epoch", -1, "First epoch of a range run (requires -end-epoch)")
	endEpoch := flag.Int64("end-epoch", -1, "Last epoch of a range run, inclusive")
	historical := flag.Bool("historical", false, "Sample and verify epochs across every activated fork")
	samplesPerFork := flag.Int("samples-per-fork", 2, "Historical mode: epochs to sample per fork phase")
	seed := flag.Int64("seed", 0, "Historical mode: sampling seed; 0 derives one from the clock")
	workers := flag.Int("workers", 2, "Concurrent epoch runs in range mode")
	outputDir := flag.String("output-dir", "", "Report output directory; overrides the config")

	versionFlag := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *versionFlag {
		fmt.Println(utils.BuildVersion())
		return
	}

	cfg := &types.Config{}
	if err := utils.ReadConfig(cfg, *configPath); err != nil {
		logrus.Fatalf("error reading config file: %v", err)
	}
	if *network != "" {
		cfg.Chain.Network = *network
	}
	if *outputDir != "" {
		cfg.Output.Dir = *outputDir
	}

	logrus.WithFields(logrus.Fields{
		"version": utils.BuildVersion(),
		"config":  *configPath,
		"network": cfg.Chain.Network,
	}).Info("starting verifier")

	registry, err := chain.NewRegistry(cfg.Chain.Network)
	if err != nil {
		logrus.Fatalf("error building fork registry: %v", err)
	}

	// flag validation happens before any network call
	if *validator == 0 {
		logrus.Fatalf("no validator index given, use -validator")
	}
	rangeRun := *startEpoch >= 0 || *endEpoch >= 0
	if rangeRun && (*startEpoch < 0 || *endEpoch < *startEpoch) {
		logrus.Fatalf("invalid epoch range %d..%d", *startEpoch, *endEpoch)
	}
	if rangeRun && *historical {
		logrus.Fatalf("-historical and -start-epoch/-end-epoch are mutually exclusive")
	}

	if cfg.Metrics.Enabled {
		go func() {
			logrus.WithField("address", cfg.Metrics.Address).Info("serving metrics")
			if err := metrics.Serve(cfg.Metrics.Address); err != nil {
				logrus.WithError(err).Error("error serving metrics")
			}
		}()
	}

	sourceA := beaconchain.NewClient(
		cfg.BeaconchaIn.BaseURL,
		cfg.BeaconchaIn.APIKey,
		cfg.Chain.Network,
		cfg.BeaconchaIn.RequestsPerSecond,
		registry,
		time.Duration(cfg.BeaconchaIn.TimeoutSeconds)*time.Second,
	)
	sourceB, err := rpc.NewClient(cfg.Rpc.Endpoints, registry, time.Duration(cfg.Rpc.TimeoutSeconds)*time.Second)
	if err != nil {
		logrus.Fatalf("error creating node client: %v", err)
	}

	engine := verify.NewEngine(registry, sourceA, sourceB, cfg)
	writer, err := report.NewWriter(cfg.Output.Dir)
	if err != nil {
		logrus.Fatalf("error preparing output directory: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Verify.RunTimeoutSeconds)*time.Second)
	defer cancel()

	switch {
	case *historical:
		runHistorical(ctx, engine, registry, writer, cfg.Chain.Network, *validator, *samplesPerFork, *seed)
	case rangeRun:
		runRange(ctx, engine, writer, cfg.Chain.Network, *validator, *startEpoch, *endEpoch, *workers)
	default:
		e := *epoch
		if e < 0 {
			// head minus a safety margin so the epoch is finalized
			e = int64(registry.CurrentEpoch(time.Now())) - 5
			if e < 0 {
				e = 0
			}
			logrus.WithField("epoch", e).Info("no epoch given, using a recently finalized one")
		}
		runSingle(ctx, engine, writer, cfg.Chain.Network, *validator, e)
	}
}

func runSingle(ctx context.Context, engine *verify.Engine, writer *report.Writer, network string, validator uint64, epoch int64) {
	results, err := engine.VerifyEpoch(ctx, validator, epoch)
	if err != nil {
		logrus.Fatalf("error verifying epoch %d: %v", epoch, err)
	}

	r := report.NewEpochReport(network, validator, uint64(epoch), results)
	mdPath, _, err := writer.WriteEpochReport(r)
	if err != nil {
		logrus.Fatalf("error writing report: %v", err)
	}
	logSummary(r.Summary, mdPath)
}

func runRange(ctx context.Context, engine *verify.Engine, writer *report.Writer, network string, validator uint64, startEpoch, endEpoch int64, workers int) {
	pool := workerpool.New(workers, int(endEpoch-startEpoch+1))
	pool.Start()
	defer pool.Stop()

	var mu sync.Mutex
	total := report.Summary{}

	for e := startEpoch; e <= endEpoch; e++ {
		epoch := e
		pool.Submit(func() {
			results, err := engine.VerifyEpoch(ctx, validator, epoch)
			if err != nil {
				utils.LogError(err, fmt.Sprintf("error verifying epoch %d", epoch), 0)
				return
			}
			r := report.NewEpochReport(network, validator, uint64(epoch), results)
			if _, _, err := writer.WriteEpochReport(r); err != nil {
				utils.LogError(err, fmt.Sprintf("error writing report for epoch %d", epoch), 0)
				return
			}
			mu.Lock()
			total.Match += r.Summary.Match
			total.Mismatch += r.Summary.Mismatch
			total.Skipped += r.Summary.Skipped
			total.Error += r.Summary.Error
			mu.Unlock()
		})
	}
	pool.Wait()
	logSummary(total, "")
}

func runHistorical(ctx context.Context, engine *verify.Engine, registry *chain.Registry, writer *report.Writer, network string, validator uint64, samplesPerFork int, seed int64) {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	s := sampler.New(registry, seed)
	currentEpoch := registry.CurrentEpoch(time.Now())
	sampled := s.SampleEpochs(samplesPerFork, currentEpoch)

	h := report.NewHistoricalReport(network, validator, seed, samplesPerFork)
	for _, se := range sampled {
		results, err := engine.VerifyEpoch(ctx, validator, int64(se.Epoch))
		if err != nil {
			utils.LogError(err, fmt.Sprintf("error verifying sampled epoch %d", se.Epoch), 0)
			continue
		}
		h.AddSection(se, results)
	}

	mdPath, _, err := writer.WriteHistoricalReport(h)
	if err != nil {
		utils.LogFatal(err, "error writing historical report", 0)
	}
	logSummary(h.Summary, mdPath)
}

func logSummary(s report.Summary, path string) {
	log := logrus.WithFields(logrus.Fields{
		"match":    s.Match,
		"mismatch": s.Mismatch,
		"skipped":  s.Skipped,
		"error":    s.Error,
	})
	if path != "" {
		log = log.WithField("report", path)
	}
	if s.Clean() {
		log.Info("verification finished, sources agree")
	} else {
		log.Warn("verification finished with discrepancies")
	}
}
