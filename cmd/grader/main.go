// The grading daemon: consumes grade jobs from SQS, runs each through the
// grading pipeline in Docker sandboxes, and streams progress over NATS when
// the job names a reply inbox.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/lmittmann/tint"
	"github.com/nats-io/nats.go"

	"github.com/fitchfork/grader/api"
	"github.com/fitchfork/grader/internal/environment"
	"github.com/fitchfork/grader/internal/gatherer"
	"github.com/fitchfork/grader/internal/gatherer/natsgath"
	"github.com/fitchfork/grader/internal/grader"
	"github.com/fitchfork/grader/internal/sandbox"
	"github.com/fitchfork/grader/internal/storage"
)

func main() {
	log := slog.New(tint.NewHandler(os.Stderr, &tint.Options{Level: slog.LevelInfo}))
	slog.SetDefault(log)

	if err := run(log); err != nil {
		log.Error("daemon exited", "err", err)
		os.Exit(1)
	}
}

func run(log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	env, err := environment.ReadEnvConfig()
	if err != nil {
		return err
	}
	if env.SubmSqsUrl == "" {
		return errors.New("SUBM_SQS_URL is not set")
	}

	runner, err := sandbox.NewDockerRunner(env.DockerImage)
	if err != nil {
		return err
	}
	slots, err := sandbox.NewSlots(env.MaxConcurrent)
	if err != nil {
		return err
	}

	var nc *nats.Conn
	if env.NatsUrl != "" {
		nc, err = nats.Connect(env.NatsUrl, nats.Name("grader"))
		if err != nil {
			return err
		}
		defer nc.Drain()
		log.Info("connected to nats", "url", env.NatsUrl)
	}

	g := &grader.Grader{
		Store:  storage.NewStore(env.StorageRoot),
		Runner: runner,
		Slots:  slots,
		Log:    log,
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(env.AwsRegion))
	if err != nil {
		return err
	}
	sqsClient := sqs.NewFromConfig(awsCfg)
	mirror := storage.NewMirrorFromConfig(awsCfg)

	log.Info("grading daemon started",
		"queue", env.SubmSqsUrl, "image", env.DockerImage, "slots", env.MaxConcurrent)

	for {
		output, err := sqsClient.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(env.SubmSqsUrl),
			MaxNumberOfMessages: 1,
			WaitTimeSeconds:     10,
		})
		if err != nil {
			if ctx.Err() != nil {
				log.Info("shutting down")
				return nil
			}
			log.Warn("failed to receive messages", "err", err)
			time.Sleep(1 * time.Second)
			continue
		}

		for _, message := range output.Messages {
			var job api.GradeJob
			if err := json.Unmarshal([]byte(*message.Body), &job); err != nil {
				log.Warn("failed to unmarshal job, dropping", "err", err)
				deleteMessage(ctx, sqsClient, env.SubmSqsUrl, message.ReceiptHandle, log)
				continue
			}
			log.Info("received grade job",
				"job", job.JobID, "module", job.ModuleID, "assignment", job.AssignmentID,
				"user", job.UserID, "attempt", job.Attempt, "tasks", len(job.Tasks))

			if err := fetchJobFiles(ctx, mirror, env.StorageRoot, job.Files); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				// Leave the message on the queue; a redelivery retries
				// the download.
				log.Error("failed to mirror job files", "job", job.JobID, "err", err)
				continue
			}

			var gath gatherer.Gatherer = gatherer.Nop{}
			if nc != nil && job.ReplyInbox != "" {
				gath = natsgath.New(nc, job.JobID, job.ReplyInbox)
			}

			if _, err := g.Grade(ctx, &job, gath); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				// The job stays on the queue and redelivers after the
				// visibility timeout.
				log.Error("grading failed", "job", job.JobID, "err", err)
				continue
			}
			deleteMessage(ctx, sqsClient, env.SubmSqsUrl, message.ReceiptHandle, log)
		}
	}
}

// fetchJobFiles mirrors the job's S3 blobs into the local store. Paths are
// relative to the storage root; absolute paths and parent traversal are
// rejected.
func fetchJobFiles(ctx context.Context, mirror *storage.Mirror, root string, files []api.RemoteFile) error {
	for _, f := range files {
		if filepath.IsAbs(f.Path) || !filepath.IsLocal(f.Path) {
			return fmt.Errorf("job file path escapes storage root: %s", f.Path)
		}
		if err := mirror.Fetch(ctx, f.Url, filepath.Join(root, f.Path)); err != nil {
			return err
		}
	}
	return nil
}

func deleteMessage(ctx context.Context, client *sqs.Client, queueUrl string, handle *string, log *slog.Logger) {
	_, err := client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(queueUrl),
		ReceiptHandle: handle,
	})
	if err != nil {
		log.Warn("failed to delete message", "err", err)
	}
}
