package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"path"
	"slices"
	"strconv"
	"strings"
	"time"
)

// ErrNotFound is returned when a checkpoint does not exist.
var ErrNotFound = errors.New("checkpoint not found")

// Latest is the LoadFrom value selecting the most recent checkpoint.
const Latest = "latest"

// Snapshot is the state of one rank at the end of a timestep.
type Snapshot struct {
	RunID    string    `yaml:"run_id"`
	Timestep int       `yaml:"timestep"`
	Date     time.Time `yaml:"date"`
	Rank     int       `yaml:"rank"`
	Ranks    int       `yaml:"ranks"`
	Reason   Reason    `yaml:"reason"`
	// Clean is false for checkpoints written on the abort path.
	Clean   bool      `yaml:"clean"`
	Written time.Time `yaml:"written"`
	Payload []byte    `yaml:"-"`
}

// Store persists snapshots. The location returned by Write identifies the
// timestep for every rank and is accepted by Read.
type Store interface {
	Write(ctx context.Context, s Snapshot) (string, error)
	Read(ctx context.Context, location string) (Snapshot, error)
	// Latest returns the location of the highest timestep for which every
	// rank of the run wrote its checkpoint.
	Latest(ctx context.Context) (string, error)
}

// StoreError wraps a failed store operation.
type StoreError struct {
	Op       string
	Location string
	Err      error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("checkpoint %s %s: %v", e.Op, e.Location, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

const stepPrefix = "ts_"

func stepDir(timestep int) string {
	return fmt.Sprintf("%s%d", stepPrefix, timestep)
}

func manifestName(rank int) string { return fmt.Sprintf("rank_%d.yaml", rank) }
func payloadName(rank int) string  { return fmt.Sprintf("rank_%d.msgpack", rank) }

// parseStepDir extracts the timestep from a "ts_<n>" path element.
func parseStepDir(name string) (int, bool) {
	name = path.Base(strings.TrimSuffix(name, "/"))
	if !strings.HasPrefix(name, stepPrefix) {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimPrefix(name, stepPrefix))
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// parseManifestName extracts the rank from a "rank_<r>.yaml" name.
func parseManifestName(name string) (int, bool) {
	name, ok := strings.CutPrefix(path.Base(name), "rank_")
	if !ok {
		return 0, false
	}
	name, ok = strings.CutSuffix(name, ".yaml")
	if !ok {
		return 0, false
	}
	r, err := strconv.Atoi(name)
	if err != nil || r < 0 {
		return 0, false
	}
	return r, true
}

// latestComplete returns the highest timestep at which every rank of the run
// wrote a manifest, or -1 when there is none. written maps timesteps to the
// ranks with a manifest there. ranksAt reads the rank count recorded in the
// manifest of rank at a timestep.
func latestComplete(written map[int]map[int]bool, rank int, ranksAt func(ts int) (int, error)) (int, error) {
	var steps []int
	for ts, ranks := range written {
		if ranks[rank] {
			steps = append(steps, ts)
		}
	}
	slices.Sort(steps)

	for i := len(steps) - 1; i >= 0; i-- {
		ts := steps[i]
		n, err := ranksAt(ts)
		if err != nil {
			return -1, err
		}
		complete := n > 0
		for r := range n {
			if !written[ts][r] {
				complete = false
				break
			}
		}
		if complete {
			return ts, nil
		}
	}
	return -1, nil
}

// OpenStore returns the store for root: an S3Store for s3:// URLs and a
// FileStore otherwise.
func OpenStore(ctx context.Context, root string, rank int, s3opts S3Options) (Store, error) {
	if bucket, prefix, ok := parseS3URL(root); ok {
		client, err := newS3Client(ctx, s3opts)
		if err != nil {
			return nil, &StoreError{Op: "open", Location: root, Err: err}
		}
		return NewS3Store(client, bucket, prefix, rank), nil
	}
	return NewFileStore(root, rank), nil
}
