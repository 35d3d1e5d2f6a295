package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/herald/api/schemas"
)

// DefaultStateKey is the key the run state is stored under.
const DefaultStateKey = "herald.runstate"

// legacyState is the unversioned record written by early agents: a bare run state, with
// the credential stored as api_key.
type legacyState struct {
	schemas.RunState
	APIKey string `json:"api_key"`
}

// StateRepository reads and writes the single versioned run-state record. The
// credential is sealed with a machine-bound key before it reaches the store.
type StateRepository struct {
	kv     KV
	key    string
	log    *zap.Logger
	now    func() time.Time
	sealer func() (*Sealer, error)
}

func NewStateRepository(kv KV, key string, logger *zap.Logger) *StateRepository {
	if key == "" {
		key = DefaultStateKey
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StateRepository{kv: kv, key: key, log: logger.Named("state_repo"), now: time.Now, sealer: MachineSealer}
}

// Load returns the persisted state. A missing record yields the zero state.
// Older records are upgraded and written back. A sealed credential that cannot be
// opened is dropped with a warning.
func (r *StateRepository) Load(ctx context.Context) (schemas.RunState, error) {
	raw, err := r.kv.Get(ctx, r.key)
	if errors.Is(err, ErrNotFound) {
		return schemas.RunState{}, nil
	}
	if err != nil {
		return schemas.RunState{}, fmt.Errorf("failed to read run state: %w", err)
	}

	var header struct {
		Version int `json:"version"`
	}
	if err := json.Unmarshal(raw, &header); err != nil {
		return schemas.RunState{}, fmt.Errorf("failed to decode run state: %w", err)
	}

	switch {
	case header.Version == 0:
		var legacy legacyState
		if err := json.Unmarshal(raw, &legacy); err != nil {
			return schemas.RunState{}, fmt.Errorf("failed to decode unversioned run state: %w", err)
		}
		state := legacy.RunState
		if state.Credentials == "" {
			state.Credentials = legacy.APIKey
		}
		return r.upgrade(ctx, header.Version, state)
	case header.Version > schemas.StateVersion:
		return schemas.RunState{}, fmt.Errorf("run state version %d is newer than supported version %d", header.Version, schemas.StateVersion)
	}

	var rec schemas.StateRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return schemas.RunState{}, fmt.Errorf("failed to decode run state record: %w", err)
	}
	if header.Version == 1 {
		// Version 1 kept the credential in clear inside State.
		if rec.State.Credentials == "" {
			return rec.State, nil
		}
		return r.upgrade(ctx, header.Version, rec.State)
	}

	rec.State.Credentials = ""
	if rec.SealedCredentials == "" {
		return rec.State, nil
	}
	sealer, err := r.sealer()
	if err != nil {
		return schemas.RunState{}, err
	}
	cred, err := sealer.Open(rec.SealedCredentials)
	if err != nil {
		// A record copied from another machine keeps its stats but needs a new key.
		r.log.Warn("Stored credential cannot be opened, it must be set again.", zap.Error(err))
		return rec.State, nil
	}
	rec.State.Credentials = cred
	return rec.State, nil
}

// upgrade rewrites an older record in the current format.
func (r *StateRepository) upgrade(ctx context.Context, from int, state schemas.RunState) (schemas.RunState, error) {
	r.log.Info("Upgrading run state.", zap.Int("from_version", from), zap.Int("to_version", schemas.StateVersion))
	if err := r.Save(ctx, state); err != nil {
		return schemas.RunState{}, err
	}
	return state, nil
}

// Save writes state as the current record version.
func (r *StateRepository) Save(ctx context.Context, state schemas.RunState) error {
	rec := schemas.StateRecord{
		Version: schemas.StateVersion,
		SavedAt: r.now().UTC(),
		State:   state,
	}
	if state.Credentials != "" {
		sealer, err := r.sealer()
		if err != nil {
			return err
		}
		if rec.SealedCredentials, err = sealer.Seal(state.Credentials); err != nil {
			return fmt.Errorf("failed to seal credential: %w", err)
		}
		rec.State.Credentials = ""
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode run state: %w", err)
	}
	if err := r.kv.Set(ctx, r.key, raw); err != nil {
		return fmt.Errorf("failed to write run state: %w", err)
	}
	return nil
}
