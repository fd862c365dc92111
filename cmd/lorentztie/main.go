package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"lorentztie/pkg/config"
	"lorentztie/pkg/pipeline"
)

func main() {
	// Parse command line arguments
	referencePath := flag.String("reference", "", "In-focus reference micrograph image")
	defocusedPath := flag.String("defocused", "", "Defocused micrograph image")
	outputDir := flag.String("output", "reconstruction", "Output directory")
	configPath := flag.String("config", "lorentztie.yaml", "Configuration file (YAML)")
	writeConfig := flag.Bool("write-config", false, "Write the default configuration file and exit")
	flag.Parse()

	if *writeConfig {
		if err := config.CreateDefaultConfigFile(*configPath); err != nil {
			log.Fatalf("Failed to write config file: %v", err)
		}
		fmt.Printf("Default configuration written to %s\n", *configPath)
		return
	}

	// Validate inputs
	if *referencePath == "" || *defocusedPath == "" {
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	fmt.Println("================================")
	fmt.Println("MAGNETIC INDUCTION MAPPING FROM DEFOCUSED LORENTZ MICROGRAPH PAIRS")
	fmt.Println("Transport-of-Intensity phase retrieval")
	fmt.Println("================================")

	runner, err := pipeline.New(cfg)
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	params := pipeline.Params{
		ReferencePath: *referencePath,
		DefocusedPath: *defocusedPath,
		OutputDir:     *outputDir,
	}

	fmt.Println("Starting reconstruction...")
	startTime := time.Now()
	result, err := runner.Process(params)
	if err != nil {
		log.Fatalf("Reconstruction failed: %v", err)
	}
	processingTime := time.Since(startTime)

	fmt.Printf("\nReconstruction completed successfully in %.2f seconds!\n", processingTime.Seconds())
	fmt.Printf("Outputs saved to: %s\n\n", *outputDir)

	fmt.Printf("Reconstruction summary:\n")
	fmt.Printf("=======================\n")
	if result.Registration != nil {
		fmt.Printf("Registration iterations: %d\n", result.Registration.Iterations)
		fmt.Printf("Final correlation: %.4f\n", result.Registration.Correlation)
	} else if result.UsedIdentityFallback {
		fmt.Printf("Registration: identity fallback (alignment failed)\n")
	}
	fmt.Printf("Mask pixels accepted: %d\n", result.Mask.Count())
	fmt.Printf("Mean in-plane induction: Bx = %.4g T, By = %.4g T\n",
		result.Field.MeanBx, result.Field.MeanBy)
}
