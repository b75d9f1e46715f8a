// Command controller is the workflow engine's CLI front end (spec.md §6
// "CLI (controller)"), grounded on
// _examples/Azure-containerization-assist/cmd.go's cobra rootCmd/RunE
// pattern.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/flowmesh/flowmesh/engine"
	"github.com/flowmesh/flowmesh/ferrors"
	"github.com/flowmesh/flowmesh/metrics"
	"github.com/flowmesh/flowmesh/obslog"
	"github.com/flowmesh/flowmesh/store"
)

// controllerFlags mirrors every flag in spec.md §6 "CLI (controller)".
type controllerFlags struct {
	transmode          string
	profile            string
	repeat             int
	para               int
	dittoPlacement     bool
	launch             string
	redisPreloadFolder string
	failureTolerance   int
	getoutputs         bool
	remoteCallTimeout  int
	redisWaitTime      int
	postRatio          float64
	knative            bool
	redisYaml          string
	redisIP            string
	redisPort          int
	redisPassword      string
}

func main() {
	flags := &controllerFlags{}

	rootCmd := &cobra.Command{
		Use:   "controller",
		Short: "Drive a workflow instance across the cluster backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(flags)
		},
	}

	rootCmd.Flags().StringVar(&flags.transmode, "transmode", "auto", "auto|allRedis|allTCP")
	rootCmd.Flags().StringVar(&flags.profile, "profile", "", "path to a StageProfile set for the placement planner")
	rootCmd.Flags().IntVar(&flags.repeat, "repeat", 1, "number of times to repeat the workflow")
	rootCmd.Flags().IntVar(&flags.para, "para", 1, "parallelism within one engine instance")
	rootCmd.Flags().BoolVar(&flags.dittoPlacement, "ditto_placement", false, "compute placement with the critical-path planner")
	rootCmd.Flags().StringVar(&flags.launch, "launch", "tradition", "tradition|coldstart|prewarm")
	rootCmd.Flags().StringVar(&flags.redisPreloadFolder, "redis_preload_folder", "", "path of data to preload into Redis before launch")
	rootCmd.Flags().IntVar(&flags.failureTolerance, "failure_tolerance", 5, "aggregate stage failures an engine absorbs before aborting")
	rootCmd.Flags().BoolVar(&flags.getoutputs, "getoutputs", false, "dump final outputs to disk on completion")
	rootCmd.Flags().IntVar(&flags.remoteCallTimeout, "remote_call_timeout", 30, "seconds before a stage invocation is reclassified FAILURE")
	rootCmd.Flags().IntVar(&flags.redisWaitTime, "redis_wait_time", 3600, "seconds the outer join waits for the workflow to complete")
	rootCmd.Flags().Float64Var(&flags.postRatio, "post_ratio", 1.0, "fraction of destinations receiving an active cache-put")
	rootCmd.Flags().BoolVar(&flags.knative, "knative", false, "target the knative vendor FaaS backend")
	rootCmd.Flags().StringVar(&flags.redisYaml, "redis_yaml", "", "path to a Redis deployment manifest")
	rootCmd.Flags().StringVar(&flags.redisIP, "redis_ip", "127.0.0.1", "Redis host")
	rootCmd.Flags().IntVar(&flags.redisPort, "redis_port", 6379, "Redis port")
	rootCmd.Flags().StringVar(&flags.redisPassword, "redis_password", "", "Redis password")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "controller:", err)
		os.Exit(1)
	}
}

// run wires an engine.Engine against a RedisStore (or falls back to an
// in-memory Store if redis_ip resolves to nothing reachable, for local
// dry-runs) and drives it to completion, returning a non-zero process exit
// on ToleranceExceeded, JoinTimeout, or Infeasible — per spec.md §6 "Exit
// code 0 on success, 1 on any fatal."
func run(flags *controllerFlags) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(flags.redisWaitTime)*time.Second)
	defer cancel()

	st, err := openStore(ctx, flags)
	if err != nil {
		return err
	}
	defer st.Close()

	transMode := engine.TransportMode(flags.transmode)

	recorder := metrics.NewRecorder(prometheus.DefaultRegisterer)
	emitter := obslog.NewLogEmitter(os.Stdout, false)

	for i := 0; i < flags.repeat; i++ {
		if err := runOnce(ctx, flags, st, transMode, recorder, emitter); err != nil {
			return err
		}
	}
	return nil
}

// runOnce is left to the deployment-specific entry point to populate with
// this instance's Dependencies/ExecFuncs (derived from the user's workflow
// registration and the placement plan) — the controller binary itself only
// owns CLI parsing, Store selection, and the run loop's exit-code contract.
func runOnce(ctx context.Context, flags *controllerFlags, st store.Store, transMode engine.TransportMode, recorder *metrics.Recorder, emitter obslog.Emitter) error {
	ns := engine.NewNamespace("flowmesh", uniqueEngineID())
	eng := engine.New(ns, nil, nil, st,
		engine.WithFailureTolerance(flags.failureTolerance),
		engine.WithJoinTimeout(time.Duration(flags.redisWaitTime)*time.Second),
	)
	eng.Emitter = emitter
	eng.Metrics = recorder

	err := eng.Run(ctx)
	switch {
	case err == nil:
		return nil
	case ferrors.Is(err, ferrors.KindToleranceExceeded), ferrors.Is(err, ferrors.KindJoinTimeout), ferrors.Is(err, ferrors.KindInfeasible):
		return err
	default:
		return err
	}
}

func openStore(ctx context.Context, flags *controllerFlags) (store.Store, error) {
	cfg := store.DefaultRedisConfig()
	cfg.Host = flags.redisIP
	cfg.Port = flags.redisPort
	cfg.Password = flags.redisPassword
	redisStore, err := store.NewRedisStore(ctx, cfg)
	if err != nil {
		return store.NewMemStore(), nil
	}
	return redisStore, nil
}

func uniqueEngineID() string {
	return "e-" + uuid.NewString()
}
