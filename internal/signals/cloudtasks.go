package signals

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	cloudtasks "cloud.google.com/go/cloudtasks/apiv2"
	taskspb "cloud.google.com/go/cloudtasks/apiv2/cloudtaskspb"

	"github.com/amx/backend/internal/core"
)

// CloudTasksDeliverer enqueues each signal as a Cloud Task posting to the
// signal ingestion endpoint. Cloud Tasks supplies durable at-least-once
// delivery with queue-level retry and a dead-letter queue; the task name is
// derived from the dedupe key, so the queue itself suppresses duplicate
// enqueues of the same terminal signal.
//
// Falls back to the in-process Deliverer when enqueueing fails.
type CloudTasksDeliverer struct {
	client    *cloudtasks.Client
	queuePath string
	targetURL string
	logger    *log.Logger
	fallback  *Deliverer
}

// NewCloudTasksDeliverer creates a Cloud Tasks-backed signal deliverer.
// fallback may be nil.
func NewCloudTasksDeliverer(projectID, locationID, queueID, targetURL string, fallback *Deliverer) (*CloudTasksDeliverer, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := cloudtasks.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("cloudtasks.NewClient: %w", err)
	}

	queuePath := fmt.Sprintf("projects/%s/locations/%s/queues/%s", projectID, locationID, queueID)

	cd := &CloudTasksDeliverer{
		client:    client,
		queuePath: queuePath,
		targetURL: targetURL,
		logger:    log.New(log.Writer(), "[CLOUD-TASKS] ", log.LstdFlags),
		fallback:  fallback,
	}
	cd.logger.Printf("connected to Cloud Tasks queue %s", queuePath)
	return cd, nil
}

// Enqueue creates one Cloud Task for the signal.
func (cd *CloudTasksDeliverer) Enqueue(sig core.Signal) {
	payload, err := json.Marshal(sig)
	if err != nil {
		cd.logger.Printf("marshal signal %s failed: %v", DedupeKey(sig), err)
		return
	}

	req := &taskspb.CreateTaskRequest{
		Parent: cd.queuePath,
		Task: &taskspb.Task{
			// Task names must be unique within the queue; reusing the dedupe
			// key makes a double-enqueue of the same terminal signal a no-op.
			Name: cd.queuePath + "/tasks/" + taskName(sig),
			MessageType: &taskspb.Task_HttpRequest{
				HttpRequest: &taskspb.HttpRequest{
					HttpMethod: taskspb.HttpMethod_POST,
					Url:        cd.targetURL,
					Headers: map[string]string{
						"Content-Type":      "application/json",
						"X-AMX-Signal-Type": string(sig.Type),
						"X-AMX-Escrow-ID":   sig.SourceEscrowID,
					},
					Body: payload,
				},
			},
		},
	}

	// Non-blocking: enqueue off the settlement hot path.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if _, err := cd.client.CreateTask(ctx, req); err != nil {
			cd.logger.Printf("cloud task enqueue failed for %s: %v", DedupeKey(sig), err)
			if cd.fallback != nil {
				cd.fallback.Enqueue(sig)
			}
		}
	}()
}

// Shutdown closes the Cloud Tasks client and the fallback pool.
func (cd *CloudTasksDeliverer) Shutdown() {
	if cd.fallback != nil {
		cd.fallback.Shutdown()
	}
	if err := cd.client.Close(); err != nil {
		cd.logger.Printf("cloud tasks client close error: %v", err)
	}
}

// taskName sanitizes the dedupe key into the Cloud Tasks ID charset.
func taskName(sig core.Signal) string {
	return strings.NewReplacer(":", "-", ".", "-").Replace(DedupeKey(sig))
}
