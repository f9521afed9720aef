package environment

import (
	"fmt"
	"os"
	"runtime"
	"strconv"

	"github.com/joho/godotenv"
)

// EnvConfig holds process-level settings for the grading daemon.
// Assignment-level settings live in each assignment's execution config.
type EnvConfig struct {
	StorageRoot string // local blob-store root

	SubmSqsUrl string // queue the daemon consumes grade jobs from
	AwsRegion  string

	NatsUrl string // optional; empty disables the NATS gatherer

	DockerImage   string // sandbox image tasks run in
	MaxConcurrent int    // process-wide container cap
}

func ReadEnvConfig() (*EnvConfig, error) {
	// .env is a dev convenience; in production the vars come from the unit.
	_ = godotenv.Load()

	res := &EnvConfig{
		StorageRoot:   os.Getenv("STORAGE_ROOT"),
		SubmSqsUrl:    os.Getenv("SUBM_SQS_URL"),
		AwsRegion:     os.Getenv("AWS_REGION"),
		NatsUrl:       os.Getenv("NATS_URL"),
		DockerImage:   os.Getenv("DOCKER_IMAGE"),
		MaxConcurrent: runtime.NumCPU(),
	}

	if res.StorageRoot == "" {
		return nil, fmt.Errorf("STORAGE_ROOT is not set")
	}
	if res.DockerImage == "" {
		res.DockerImage = "universal-runner"
	}
	if v := os.Getenv("MAX_CONCURRENT_CONTAINERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("MAX_CONCURRENT_CONTAINERS must be a positive integer, got %q", v)
		}
		res.MaxConcurrent = n
	}

	return res, nil
}
