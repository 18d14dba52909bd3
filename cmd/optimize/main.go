// Package main fits the launch velocity and stiffness of a scene so that the
// simulated material lands on a target, using gradients from the reverse pass.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/gocarina/gocsv"
	"gonum.org/v1/gonum/optimize"

	"github.com/pthm-cable/diffmpm/config"
)

// formatDuration formats a duration as HH:MM:SS or MM:SS for shorter durations.
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%02dm%02ds", h, m, s)
	}
	return fmt.Sprintf("%dm%02ds", m, s)
}

// newMethod returns the named gonum gradient method.
func newMethod(name string) (optimize.Method, error) {
	switch name {
	case "lbfgs":
		return &optimize.LBFGS{}, nil
	case "bfgs":
		return &optimize.BFGS{}, nil
	case "gd":
		return &optimize.GradientDescent{}, nil
	}
	return nil, fmt.Errorf("unknown method %q", name)
}

func main() {
	// CLI flags
	configPath := flag.String("config", "", "Base config YAML file (empty = use defaults)")
	iterations := flag.Int("iterations", 0, "Maximum major iterations (0 = optimize.iterations from config)")
	maxEvals := flag.Int("max-evals", 100, "Maximum number of simulations")
	methodName := flag.String("method", "lbfgs", "Gradient method: lbfgs, bfgs or gd")
	lossName := flag.String("loss", "com", "Objective: com or height")
	steps := flag.Int("steps", 0, "Override sim.steps (0 = config)")
	particles := flag.Int("particles", 0, "Override sim.n_particles (0 = config)")
	outputDir := flag.String("output", "", "Output directory for results")
	flag.Parse()

	if *outputDir == "" {
		log.Fatal("--output is required")
	}

	// Create output directory
	if err := os.MkdirAll(*outputDir, 0755); err != nil {
		log.Fatalf("failed to create output directory: %v", err)
	}

	// Load base config
	if err := config.Init(*configPath); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	baseCfg := config.Cfg()
	if *steps > 0 {
		baseCfg.Sim.Steps = *steps
	}
	if *particles > 0 {
		baseCfg.Sim.NParticles = *particles
	}
	if err := baseCfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}
	maxIters := *iterations
	if maxIters == 0 {
		maxIters = baseCfg.Optimize.Iterations
	}

	method, err := newMethod(*methodName)
	if err != nil {
		log.Fatal(err)
	}

	params := NewParamVector(baseCfg)
	evaluator := NewFitnessEvaluator(params, baseCfg, *lossName)

	// Open log file
	logPath := filepath.Join(*outputDir, "optimize_log.csv")
	logFile, err := os.Create(logPath)
	if err != nil {
		log.Fatalf("failed to create log file: %v", err)
	}
	defer logFile.Close()

	startTime := time.Now()
	evaluator.OnRecord(func(rec EvalRecord) {
		rows := []EvalRecord{rec}
		var werr error
		if rec.Eval == 1 {
			werr = gocsv.Marshal(rows, logFile)
		} else {
			werr = gocsv.MarshalWithoutHeaders(rows, logFile)
		}
		if werr != nil {
			log.Printf("failed to write log row: %v", werr)
		}

		// Called with the evaluator lock held
		bestLoss := evaluator.best.Loss
		elapsed := time.Since(startTime)
		fmt.Printf("Eval %d/%d: loss=%.6g v=(%.3f, %.3f) E=%.1f com=(%.3f, %.3f) (best=%.6g) | elapsed: %s\n",
			rec.Eval, *maxEvals, rec.Loss, rec.LaunchVX, rec.LaunchVY, rec.E,
			rec.ComX, rec.ComY, bestLoss, formatDuration(elapsed))
	})

	problem := optimize.Problem{
		Func: evaluator.Func,
		Grad: evaluator.Grad,
	}
	settings := &optimize.Settings{
		MajorIterations: maxIters,
		FuncEvaluations: *maxEvals,
		Concurrent:      0, // The evaluator runs one simulation at a time
	}
	initX := params.Normalize(params.DefaultVector())

	fmt.Printf("Starting %s optimization with %d parameters, iterations=%d, max_evals=%d\n",
		*methodName, params.Dim(), maxIters, *maxEvals)
	fmt.Printf("Particles: %d, steps: %d, target: (%.3f, %.3f)\n",
		baseCfg.Sim.NParticles, baseCfg.Sim.Steps, baseCfg.Optimize.Target[0], baseCfg.Optimize.Target[1])

	result, err := optimize.Minimize(problem, initX, settings, method)
	if err != nil {
		log.Printf("optimization ended: %v", err)
	}

	// Use best params found (may be from a line search step, not the final X)
	best, bestParams := evaluator.Best()
	if bestParams == nil && result != nil {
		bestParams = params.Clamp(params.Denormalize(result.X))
	}
	if bestParams == nil {
		log.Fatal("no successful evaluation")
	}

	totalTime := time.Since(startTime)
	fmt.Printf("\nOptimization complete after %d evaluations in %s\n", evaluator.Evals(), formatDuration(totalTime))
	if result != nil {
		fmt.Printf("Status: %v\n", result.Status)
	}
	fmt.Printf("Best loss: %.6g\n", best.Loss)

	// Print best parameters
	fmt.Println("\nBest parameters:")
	for i, spec := range params.Specs {
		fmt.Printf("  %s: %.6f\n", spec.Name, bestParams[i])
	}

	// Save best config
	bestCfg := *baseCfg
	params.ApplyToConfig(&bestCfg, bestParams)

	configOutPath := filepath.Join(*outputDir, "best_config.yaml")
	if err := bestCfg.WriteYAML(configOutPath); err != nil {
		log.Printf("failed to write best config: %v", err)
	} else {
		fmt.Printf("\nBest config saved to: %s\n", configOutPath)
	}
}
