package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gaddyh/tami2-ai-sub000/internal/bus"
	"github.com/gaddyh/tami2-ai-sub000/internal/cache"
)

// SignatureHeader carries the provider's HMAC of the webhook body.
const SignatureHeader = "X-Hub-Signature-256"

const defaultEnqueueTimeout = 2 * time.Second

// VerifySignature checks header ("sha256=<hex>") against the HMAC-SHA256
// of body under secret.
func VerifySignature(secret string, body []byte, header string) bool {
	hexSig, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return false
	}
	got, err := hex.DecodeString(hexSig)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

// Intake admits inbound jobs exactly once: it reserves the message id in
// the dedupe cache, enqueues the job and indexes the raw payload. A message
// id still held by the index counts as a duplicate even after its dedupe
// entry expired.
type Intake struct {
	dedupe  cache.Deduper
	index   *cache.MessageIndex
	queue   bus.JobSink
	timeout time.Duration
}

func NewIntake(dedupe cache.Deduper, index *cache.MessageIndex, queue bus.JobSink) *Intake {
	return &Intake{dedupe: dedupe, index: index, queue: queue, timeout: defaultEnqueueTimeout}
}

// Accept reports whether job was new and enqueued. Duplicates return
// (false, nil). A failed enqueue releases the reservation so a redelivery
// is accepted.
func (in *Intake) Accept(ctx context.Context, job bus.Job) (bool, error) {
	if job.MessageID == "" {
		return false, fmt.Errorf("job has no message id")
	}
	if in.index != nil && in.index.Seen(job.MessageID) {
		// older than the dedupe window but still indexed
		slog.Debug("duplicate message", "message_id", job.MessageID, "source", "index")
		return false, nil
	}
	fresh, err := in.dedupe.MarkIfNew(ctx, job.MessageID)
	if err != nil {
		return false, fmt.Errorf("dedupe %s: %w", job.MessageID, err)
	}
	if !fresh {
		slog.Debug("duplicate message", "message_id", job.MessageID)
		return false, nil
	}

	qctx, cancel := context.WithTimeout(ctx, in.timeout)
	defer cancel()
	if err := in.queue.Enqueue(qctx, job); err != nil {
		if ferr := in.dedupe.Forget(context.WithoutCancel(ctx), job.MessageID); ferr != nil {
			slog.Warn("dedupe release failed", "message_id", job.MessageID, "error", ferr)
		}
		return false, fmt.Errorf("enqueue %s: %w", job.MessageID, err)
	}
	// indexed only once queued, so a rejected delivery can come back
	if in.index != nil {
		in.index.Put(job.MessageID, job.Raw)
	}
	return true, nil
}

// Enqueue lets push transports feed the intake directly. Duplicates are
// dropped silently.
func (in *Intake) Enqueue(ctx context.Context, job bus.Job) error {
	_, err := in.Accept(ctx, job)
	return err
}
