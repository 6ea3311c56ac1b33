// phoenix drives a Bluetooth cable resistance machine from the command
// line: scan for machines, run workout sessions (single exercise or a
// stored routine), and diagnose firmware init quirks with the protocol
// discovery harness.
package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
	"tinygo.org/x/bluetooth"

	"github.com/nick-groenke/Project-Phoenix-MP-sub001/internal/bt"
	"github.com/nick-groenke/Project-Phoenix-MP-sub001/internal/config"
	"github.com/nick-groenke/Project-Phoenix-MP-sub001/internal/discovery"
	"github.com/nick-groenke/Project-Phoenix-MP-sub001/internal/engine"
	"github.com/nick-groenke/Project-Phoenix-MP-sub001/internal/machine"
	"github.com/nick-groenke/Project-Phoenix-MP-sub001/internal/protocol"
	"github.com/nick-groenke/Project-Phoenix-MP-sub001/internal/routine"
	"github.com/nick-groenke/Project-Phoenix-MP-sub001/internal/store"
)

type cliFlags struct {
	flagSet *pflag.FlagSet

	configPath string
	mock       bool

	scan         bool
	scanDuration time.Duration

	device        string
	discover      string
	exerciseCycle bool

	routineID  int64
	exerciseID int64
	weight     float64
	reps       int
	sets       int
	warmupReps int
	mode       string
	units      string
}

func parseFlags(args []string) (*cliFlags, error) {
	f := &cliFlags{flagSet: pflag.NewFlagSet("phoenix", pflag.ContinueOnError)}
	fs := f.flagSet

	fs.StringVar(&f.configPath, "config", "", "Path to config file (default: ./phoenix.yaml)")
	fs.BoolVar(&f.mock, "mock", false, "Use a simulated machine instead of the radio")

	fs.BoolVar(&f.scan, "scan", false, "Scan for machines and list them")
	fs.DurationVar(&f.scanDuration, "scan-duration", 10*time.Second, "How long to scan")

	fs.StringVar(&f.device, "device", "", "Machine address to connect to")
	fs.StringVar(&f.discover, "discover", "", "Run protocol discovery: quick, recommended or full")
	fs.BoolVar(&f.exerciseCycle, "exercise-cycle", false, "Run one end-to-end command cycle against the machine")

	fs.Int64Var(&f.routineID, "routine", 0, "Run the stored routine with this id")
	fs.Int64Var(&f.exerciseID, "exercise", 1, "Exercise id for a single-exercise session")
	fs.Float64Var(&f.weight, "weight", 20, "Per-cable weight in the selected units")
	fs.IntVar(&f.reps, "reps", 10, "Target reps per set (0 for AMRAP)")
	fs.IntVar(&f.sets, "sets", 3, "Number of sets")
	fs.IntVar(&f.warmupReps, "warmup", 0, "Warm-up reps before counting starts")
	fs.StringVar(&f.mode, "mode", "oldschool", "Resistance mode: oldschool, tut, pump, eccentric, beast, echo")
	fs.StringVar(&f.units, "units", "kg", "Display unit: kg or lb")

	// Overrides bound into the config layer.
	fs.String("log-file", "", "Log file path")
	fs.String("db", "", "Database file path")
	fs.Duration("connect-timeout", 0, "Connection timeout")
	fs.Bool("auto-start", false, "Start the set when the handles are gripped")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return f, nil
}

func parseMode(s string) (protocol.Mode, error) {
	switch strings.ToLower(s) {
	case "oldschool", "":
		return protocol.ModeOldSchool, nil
	case "tut":
		return protocol.ModeTUT, nil
	case "pump":
		return protocol.ModePump, nil
	case "eccentric":
		return protocol.ModeEccentricOnly, nil
	case "beast":
		return protocol.ModeTUTBeast, nil
	case "echo":
		return protocol.ModeEcho, nil
	default:
		return 0, fmt.Errorf("unknown mode %q", s)
	}
}

func parseTier(s string) (discovery.Tier, error) {
	switch strings.ToLower(s) {
	case "quick":
		return discovery.TierQuick, nil
	case "recommended":
		return discovery.TierRecommended, nil
	case "full":
		return discovery.TierFull, nil
	default:
		return 0, fmt.Errorf("unknown discovery tier %q", s)
	}
}

func main() {
	flags, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	cfg, err := config.Load(flags.configPath, flags.flagSet)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger := log.New(&lumberjack.Logger{
		Filename:   cfg.LogFile,
		MaxSize:    cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
	}, "", log.LstdFlags|log.Lmicroseconds)
	logger.Printf("Main: Starting phoenix")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		logger.Printf("Main: Interrupted, shutting down")
		cancel()
	}()

	if err := run(ctx, flags, cfg, logger); err != nil {
		logger.Printf("Main: Exiting with error: %v", err)
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, flags *cliFlags, cfg config.Config, logger *log.Logger) error {
	var btManager bt.BTManagerInterface
	deviceID := flags.device
	if flags.mock {
		mockManager := machine.NewMockDeviceManager(logger)
		if deviceID == "" {
			deviceID = mockManager.Devices()[0].GetAddressString()
		}
		btManager = mockManager
	} else {
		btManager = bt.NewBTManager(bluetooth.DefaultAdapter, logger)
	}
	defer btManager.Shutdown()

	if err := btManager.Enable(); err != nil {
		return fmt.Errorf("failed to enable bluetooth: %w", err)
	}

	manager := machine.NewManager(btManager, logger)
	defer manager.Shutdown()

	switch {
	case flags.scan:
		return runScan(ctx, manager, flags.scanDuration)
	case flags.discover != "":
		return runDiscovery(ctx, manager, deviceID, flags.discover, flags.scanDuration, logger)
	case flags.exerciseCycle:
		return runExerciseCycle(ctx, manager, deviceID, cfg, logger)
	default:
		return runWorkout(ctx, manager, deviceID, flags, cfg, logger)
	}
}

func runScan(ctx context.Context, manager *machine.Manager, duration time.Duration) error {
	fmt.Printf("Scanning for %v...\n", duration)
	manager.StartScanning()
	defer func() {
		if err := manager.StopScanning(); err != nil {
			fmt.Fprintf(os.Stderr, "failed to stop scan: %v\n", err)
		}
	}()

	deadline := time.After(duration)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	seen := map[string]bool{}
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-deadline:
			if len(seen) == 0 {
				fmt.Println("No machines found")
			}
			return nil
		case <-ticker.C:
			for _, device := range manager.Machines() {
				addr := device.GetAddressString()
				if seen[addr] {
					continue
				}
				seen[addr] = true
				rssi, _ := device.GetScanRSSI()
				fmt.Printf("  %s  %-24s  RSSI %d\n", addr, device.GetLocalName(), rssi)
			}
		}
	}
}

// ensureDeviceKnown scans until the adapter has seen the target device, so
// Connect can resolve the address.
func ensureDeviceKnown(ctx context.Context, manager *machine.Manager, deviceID string, timeout time.Duration) error {
	for _, device := range manager.Machines() {
		if device.GetAddressString() == deviceID {
			return nil
		}
	}

	manager.StartScanning()
	defer func() {
		if err := manager.StopScanning(); err != nil {
			fmt.Fprintf(os.Stderr, "failed to stop scan: %v\n", err)
		}
	}()

	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			for _, device := range manager.Machines() {
				if device.GetAddressString() == deviceID {
					return nil
				}
			}
		}
	}
	return fmt.Errorf("machine %s not found in scan within %v", deviceID, timeout)
}

func runDiscovery(ctx context.Context, manager *machine.Manager, deviceID, tierName string, scanDuration time.Duration, logger *log.Logger) error {
	if deviceID == "" {
		return fmt.Errorf("--discover requires --device (or --mock)")
	}
	tier, err := parseTier(tierName)
	if err != nil {
		return err
	}
	if err := ensureDeviceKnown(ctx, manager, deviceID, scanDuration); err != nil {
		return err
	}

	harness := discovery.NewHarness(manager, deviceID, logger)
	results := harness.Run(ctx, tier)
	fmt.Print(discovery.Report(results))
	return nil
}

func runExerciseCycle(ctx context.Context, manager *machine.Manager, deviceID string, cfg config.Config, logger *log.Logger) error {
	if deviceID == "" {
		return fmt.Errorf("--exercise-cycle requires --device (or --mock)")
	}

	harness := discovery.NewHarness(manager, deviceID, logger)
	result := harness.ExerciseCycle(ctx, manager, discovery.CycleOptions{
		ConnTimeout: cfg.ConnectTimeout,
	})
	fmt.Print(discovery.CycleReport(result))
	if !result.Success {
		return fmt.Errorf("exercise cycle aborted")
	}
	return nil
}

func runWorkout(ctx context.Context, manager *machine.Manager, deviceID string, flags *cliFlags, cfg config.Config, logger *log.Logger) error {
	if deviceID == "" {
		return fmt.Errorf("a workout session requires --device (or --mock)")
	}

	db, err := store.Open(cfg.DBFile)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() {
		if cerr := db.Close(); cerr != nil {
			logger.Printf("Main: Failed to close database: %v", cerr)
		}
	}()
	if err := db.Seed(ctx); err != nil {
		return fmt.Errorf("failed to seed database: %w", err)
	}

	units := routine.NewUnitService(routine.WeightUnit(flags.units))
	planner, flow, err := buildPlanner(ctx, flags, units, db, logger)
	if err != nil {
		return err
	}

	if err := ensureDeviceKnown(ctx, manager, deviceID, flags.scanDuration); err != nil {
		return err
	}

	connectCtx, cancelConnect := context.WithTimeout(ctx, cfg.ConnectTimeout)
	err = manager.Connect(connectCtx, deviceID)
	cancelConnect()
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", deviceID, err)
	}
	defer func() {
		if derr := manager.Disconnect(); derr != nil {
			logger.Printf("Main: Disconnect failed: %v", derr)
		}
	}()
	fmt.Printf("Connected to %s\n", deviceID)

	session := engine.NewSession(manager, manager.Notifications(), planner, db, cfg.Session, cfg.Tuning, logger)
	defer session.Shutdown()

	stateCh := make(chan engine.WorkoutState, 16)
	stopStates := session.ListenToState(stateCh)
	defer stopStates()

	// Machine-initiated link loss fails the running set.
	connCh := make(chan machine.ConnectionState, 8)
	stopConn := manager.ListenToState(connCh)
	defer stopConn()

	go readCommands(ctx, session, logger)

	session.Start()
	if flow != nil {
		defer reportFlow(flow)
	}

	for {
		select {
		case <-ctx.Done():
			session.Cancel()
			return nil
		case conn := <-connCh:
			if conn.State == machine.StateDisconnected {
				session.LinkLost()
			}
		case state := <-stateCh:
			printState(state, units)
			if state.Kind == engine.StateCompleted {
				return nil
			}
		}
	}
}

// buildPlanner chooses between a stored routine and a single-exercise
// session from the flags. The returned flow controller is nil for single
// exercises.
func buildPlanner(ctx context.Context, flags *cliFlags, units *routine.UnitService, db *store.Store, logger *log.Logger) (engine.SetPlanner, *routine.FlowController, error) {
	if flags.routineID > 0 {
		r, err := db.GetRoutineByID(ctx, flags.routineID)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load routine %d: %w", flags.routineID, err)
		}
		flow, err := routine.NewFlowController(ctx, r, db, logger)
		if err != nil {
			return nil, nil, err
		}
		fmt.Printf("Routine: %s\n", r.Name)
		return flow, flow, nil
	}

	mode, err := parseMode(flags.mode)
	if err != nil {
		return nil, nil, err
	}
	exercise, err := db.GetExerciseByID(ctx, flags.exerciseID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load exercise %d: %w", flags.exerciseID, err)
	}
	params := engine.WorkoutParameters{
		ExerciseID:   exercise.ID,
		ExerciseName: exercise.Name,
		Mode:         mode,
		WeightKg:     units.ToKilograms(flags.weight),
		TargetReps:   flags.reps,
		WarmupReps:   flags.warmupReps,
	}
	return engine.NewSingleExercisePlanner(params, flags.sets), nil, nil
}

// readCommands maps stdin lines onto session intents so a set can be
// controlled without a UI.
func readCommands(ctx context.Context, session *engine.Session, logger *log.Logger) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		switch strings.TrimSpace(strings.ToLower(scanner.Text())) {
		case "stop", "s":
			session.StopSet()
		case "skip":
			session.SkipRest()
		case "go":
			session.SkipCountdown()
		case "next", "n":
			session.Proceed()
		case "cancel", "q":
			session.Cancel()
		case "help", "?":
			fmt.Println("commands: stop, skip (rest), go (skip countdown), next, cancel")
		case "":
		default:
			fmt.Println("unknown command; try 'help'")
		}
	}
	if err := scanner.Err(); err != nil {
		logger.Printf("Main: Stdin closed: %v", err)
	}
}

func printState(state engine.WorkoutState, units *routine.UnitService) {
	switch state.Kind {
	case engine.StateIdle:
		fmt.Println("Ready")
	case engine.StateCountdown:
		fmt.Printf("Starting %s in %d...\n", state.Parameters.ExerciseName, state.SecondsRemaining)
	case engine.StateActive:
		if state.Reps.Pending {
			return
		}
		if state.Reps.WarmupReps < state.Parameters.WarmupReps {
			fmt.Printf("  warm-up %d/%d\n", state.Reps.WarmupReps, state.Parameters.WarmupReps)
			return
		}
		if state.Parameters.IsAMRAP() {
			fmt.Printf("  rep %d\n", state.Reps.WorkingReps)
		} else {
			fmt.Printf("  rep %d/%d\n", state.Reps.WorkingReps, state.Parameters.TargetReps)
		}
	case engine.StateSetSummary:
		if state.Summary != nil {
			pr := ""
			if state.Summary.PersonalRecord {
				pr = "  NEW PR"
			}
			fmt.Printf("Set done: %d reps at %s in %v%s\n",
				state.Summary.RepsCompleted, units.Format(state.Summary.Parameters.WeightKg),
				state.Summary.Duration.Round(time.Second), pr)
		}
	case engine.StateResting:
		fmt.Printf("Rest %ds, next: %s (set %d/%d)\n",
			state.SecondsRemaining, state.Rest.NextExerciseName,
			state.Rest.CurrentSet, state.Rest.TotalSets)
	case engine.StateCompleted:
		if state.Totals != nil {
			fmt.Printf("Workout complete: %d sets, %d reps, %v\n",
				state.Totals.Sets, state.Totals.Reps,
				state.Totals.Duration.Round(time.Second))
		}
	case engine.StateError:
		fmt.Printf("Error: %s\n", state.Message)
	}
}

func reportFlow(flow *routine.FlowController) {
	state := flow.State()
	if state.Kind != routine.FlowComplete {
		return
	}
	fmt.Printf("Routine %q: %d exercises, %d sets, %v total\n",
		state.RoutineName, state.TotalExercises, state.TotalSets,
		state.TotalDuration.Round(time.Second))
}
