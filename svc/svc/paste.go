package svc

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"sealbin/cfg"
	"sealbin/metrics"
	"sealbin/pkg/domain"
	"sealbin/svc/auth"
	"sealbin/svc/util"
)

// MetadataStore is the durable side of the pair: expiry rules, view counts,
// burn flags, and token digests. It must survive restarts.
type MetadataStore interface {
	Create(ctx context.Context, m *domain.Metadata) error
	Get(ctx context.Context, id string) (*domain.Metadata, error)
	Exists(ctx context.Context, id string) (bool, error)
	ConsumeView(ctx context.Context, id string, now time.Time) (int, error)
	MarkBurned(ctx context.Context, id string, now time.Time) error
	Rename(ctx context.Context, oldID, newID string, now time.Time) error
	Delete(ctx context.Context, id string) error
	ExpiredIDs(ctx context.Context, now time.Time, limit int) ([]string, error)
	PurgeExpired(ctx context.Context, now time.Time) (int, error)
}

// PayloadStore holds the encrypted blobs. It may drop keys on its own via
// TTL, so a missing payload is a state the orchestrator must expect.
type PayloadStore interface {
	Set(ctx context.Context, id string, p *domain.Payload, ttl time.Duration) error
	Get(ctx context.Context, id string) (*domain.Payload, error)
	TTL(ctx context.Context, id string) (time.Duration, error)
	Delete(ctx context.Context, id string) error
}

// Paste coordinates the two stores through every lifecycle transition.
// Neither store knows about the other; all cross-store ordering and
// compensation lives here.
type Paste struct {
	meta     MetadataStore
	payloads PayloadStore
	tokens   *auth.TokenVerifier
	cfg      *cfg.Cfg
	now      func() time.Time
	shutdown atomic.Bool
	opWg     sync.WaitGroup
}

func NewPaste(meta MetadataStore, payloads PayloadStore, tokens *auth.TokenVerifier, c *cfg.Cfg) *Paste {
	if meta == nil || payloads == nil || tokens == nil || c == nil {
		panic("paste service: nil dependency (meta, payloads, tokens, or cfg)")
	}
	return &Paste{
		meta:     meta,
		payloads: payloads,
		tokens:   tokens,
		cfg:      c,
		now:      time.Now,
	}
}

func (p *Paste) Shutdown() {
	p.shutdown.Store(true)
	done := make(chan struct{})
	go func() {
		p.opWg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		util.Warn().Msg("in-flight operations didn't finish in time")
	}
	util.Debug().Msg("paste service shutdown complete")
}

// Create writes payload first, metadata second. The payload is worthless
// without its metadata row, so a metadata failure compensates by deleting
// the payload; the reverse order could leak an undeletable orphan row.
func (p *Paste) Create(ctx context.Context, params domain.CreateParams) (*domain.CreateResult, error) {
	if p.shutdown.Load() {
		return nil, errors.New("service shutting down")
	}
	p.opWg.Add(1)
	defer p.opWg.Done()
	if int64(len(params.Payload.Ciphertext)) > p.cfg.MaxPayloadSize {
		return nil, domain.ErrPasteTooLarge
	}
	now := p.now()
	expiresAt, maxViews, err := domain.ResolvePolicy(params.Policy, params.Duration, params.MaxViews, now)
	if err != nil {
		return nil, err
	}
	id, err := util.GenID(func(id string) (bool, error) {
		return p.meta.Exists(ctx, id)
	})
	if err != nil {
		util.Error().Err(err).Msg("id generation failed")
		return nil, domain.ErrIDGeneration
	}
	token, err := auth.NewDeletionToken()
	if err != nil {
		return nil, errors.Wrap(err, "gen deletion token")
	}
	digest, err := p.tokens.Digest(token)
	if err != nil {
		return nil, errors.Wrap(err, "digest deletion token")
	}
	ttl := domain.PayloadTTL(expiresAt, now)
	if err := p.payloads.Set(ctx, id, &params.Payload, ttl); err != nil {
		util.Error().Err(err).Str("id", id).Msg("payload write failed")
		return nil, domain.ErrStoreUnavailable
	}
	m := &domain.Metadata{
		ID:          id,
		CreatedAt:   now,
		UpdatedAt:   now,
		ExpiresAt:   expiresAt,
		MaxViews:    maxViews,
		HasPassword: params.HasPassword,
		TokenDigest: digest,
		Display:     params.Display,
	}
	if err := p.meta.Create(ctx, m); err != nil {
		p.compensate(ctx, "create", id)
		util.Error().Err(err).Str("id", id).Msg("metadata write failed, payload compensated")
		return nil, domain.ErrStoreUnavailable
	}
	metrics.PasteCreated.Inc()
	util.Info().Str("id", id).Str("policy", string(params.Policy)).Msg("paste created")
	return &domain.CreateResult{
		ID:            id,
		ExpiresAt:     expiresAt,
		MaxViews:      maxViews,
		DeletionToken: token,
	}, nil
}

// compensate removes a payload left behind by a failed cross-store write.
// Failure here is tolerable: the key either has a TTL or the sweep will
// never find metadata for it, so it stays unreachable either way.
func (p *Paste) compensate(ctx context.Context, op, id string) {
	if err := p.payloads.Delete(ctx, id); err != nil {
		metrics.CompensationRuns.WithLabelValues(op, "failed").Inc()
		util.Warn().Err(err).Str("id", id).Str("op", op).Msg("compensating payload delete failed")
		return
	}
	metrics.CompensationRuns.WithLabelValues(op, "ok").Inc()
}

// Consume is the read path: serve the payload and count the view in one
// pass, burning the paste when this view reaches its limit.
//
// The order is deliberate. The expiry check and the payload read both come
// before the view increment, so a reader never pays a view for a paste it
// cannot get. Once the increment lands the payload is already in hand, and
// burn-side failures degrade to cleanup work instead of data loss.
func (p *Paste) Consume(ctx context.Context, id string) (*domain.ConsumeResult, error) {
	if p.shutdown.Load() {
		return nil, errors.New("service shutting down")
	}
	p.opWg.Add(1)
	defer p.opWg.Done()
	m, err := p.meta.Get(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrPasteNotFound) {
			return nil, domain.ErrPasteNotFound
		}
		util.Error().Err(err).Str("id", id).Msg("metadata read failed")
		return nil, domain.ErrStoreUnavailable
	}
	now := p.now()
	if m.Expired(now) {
		p.purge(ctx, id)
		return nil, domain.ErrPasteGone
	}
	payload, err := p.payloads.Get(ctx, id)
	if err != nil {
		util.Error().Err(err).Str("id", id).Msg("payload read failed")
		return nil, domain.ErrStoreUnavailable
	}
	if payload == nil {
		// Metadata says live but the volatile side already dropped the
		// key. No view is consumed for a read that returned nothing.
		util.Warn().Str("id", id).Msg("payload missing for live metadata")
		return nil, domain.ErrPayloadMissing
	}
	count, err := p.meta.ConsumeView(ctx, id, now)
	if err != nil {
		if errors.Is(err, domain.ErrPasteNotFound) {
			return nil, domain.ErrPasteNotFound
		}
		util.Error().Err(err).Str("id", id).Msg("view increment failed")
		return nil, domain.ErrStoreUnavailable
	}
	willBurn := m.MaxViews != nil && count >= *m.MaxViews
	if willBurn {
		if err := p.payloads.Delete(ctx, id); err != nil {
			util.Warn().Err(err).Str("id", id).Msg("burn payload delete failed, sweep will retry")
		}
		if err := p.meta.MarkBurned(ctx, id, now); err != nil {
			util.Warn().Err(err).Str("id", id).Msg("burn flag write failed, view count still enforces the limit")
		}
		metrics.PasteBurned.Inc()
	}
	metrics.PasteConsumed.Inc()
	return &domain.ConsumeResult{
		Payload:     *payload,
		CreatedAt:   m.CreatedAt,
		ExpiresAt:   m.ExpiresAt,
		ViewCount:   count,
		MaxViews:    m.MaxViews,
		HasPassword: m.HasPassword,
		Display:     m.Display,
		WillBurn:    willBurn,
	}, nil
}

// Rotate re-homes a paste under a fresh id: same payload, same remaining
// TTL, same counters and token. The metadata row is renamed in place so
// nothing about the lifecycle state resets.
func (p *Paste) Rotate(ctx context.Context, id, token string) (string, error) {
	if p.shutdown.Load() {
		return "", errors.New("service shutting down")
	}
	p.opWg.Add(1)
	defer p.opWg.Done()
	m, err := p.meta.Get(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrPasteNotFound) {
			return "", domain.ErrPasteNotFound
		}
		util.Error().Err(err).Str("id", id).Msg("metadata read failed")
		return "", domain.ErrStoreUnavailable
	}
	if !m.Revocable() || !p.tokens.Verify(token, m.TokenDigest) {
		return "", domain.ErrForbidden
	}
	now := p.now()
	if m.Expired(now) {
		p.purge(ctx, id)
		return "", domain.ErrPasteGone
	}
	payload, err := p.payloads.Get(ctx, id)
	if err != nil {
		util.Error().Err(err).Str("id", id).Msg("payload read failed")
		return "", domain.ErrStoreUnavailable
	}
	if payload == nil {
		return "", domain.ErrPayloadMissing
	}
	ttl, err := p.payloads.TTL(ctx, id)
	if err != nil {
		util.Error().Err(err).Str("id", id).Msg("payload ttl read failed")
		return "", domain.ErrStoreUnavailable
	}
	if ttl <= 0 && m.ExpiresAt != nil {
		// The key can lapse between the payload read and the TTL call.
		// The metadata expiry is authoritative; rederive the remainder so
		// the copy doesn't come out without one.
		ttl = domain.PayloadTTL(m.ExpiresAt, now)
	}
	newID, err := util.GenID(func(id string) (bool, error) {
		return p.meta.Exists(ctx, id)
	})
	if err != nil {
		util.Error().Err(err).Msg("id generation failed")
		return "", domain.ErrIDGeneration
	}
	if err := p.payloads.Set(ctx, newID, payload, ttl); err != nil {
		util.Error().Err(err).Str("id", newID).Msg("payload write failed")
		return "", domain.ErrStoreUnavailable
	}
	if err := p.meta.Rename(ctx, id, newID, now); err != nil {
		p.compensate(ctx, "rotate", newID)
		if errors.Is(err, domain.ErrPasteNotFound) {
			return "", domain.ErrPasteNotFound
		}
		util.Error().Err(err).Str("id", id).Msg("metadata rename failed, new payload compensated")
		return "", domain.ErrStoreUnavailable
	}
	// Old payload is unreachable once the row points at the new id; a
	// failed delete just leaves a TTL-bound stray.
	if err := p.payloads.Delete(ctx, id); err != nil {
		util.Warn().Err(err).Str("id", id).Msg("old payload delete failed after rotate")
	}
	metrics.PasteRotated.Inc()
	util.Info().Str("old_id", id).Str("new_id", newID).Msg("paste rotated")
	return newID, nil
}

// Revoke destroys a paste on presentation of its deletion token. Payload
// goes first: losing ciphertext early is safe, losing the metadata row
// first would strand the payload with no record of it.
func (p *Paste) Revoke(ctx context.Context, id, token string) error {
	if p.shutdown.Load() {
		return errors.New("service shutting down")
	}
	p.opWg.Add(1)
	defer p.opWg.Done()
	m, err := p.meta.Get(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrPasteNotFound) {
			return domain.ErrPasteNotFound
		}
		util.Error().Err(err).Str("id", id).Msg("metadata read failed")
		return domain.ErrStoreUnavailable
	}
	if !m.Revocable() || !p.tokens.Verify(token, m.TokenDigest) {
		return domain.ErrForbidden
	}
	if err := p.payloads.Delete(ctx, id); err != nil {
		util.Warn().Err(err).Str("id", id).Msg("payload delete failed during revoke, sweep will retry")
	}
	if err := p.meta.Delete(ctx, id); err != nil {
		util.Error().Err(err).Str("id", id).Msg("metadata delete failed during revoke")
		return domain.ErrStoreUnavailable
	}
	metrics.PasteRevoked.Inc()
	util.Info().Str("id", id).Msg("paste revoked via token")
	return nil
}

// purge is the best-effort teardown of a paste found expired in the read
// path. Failures are left for the sweep.
func (p *Paste) purge(ctx context.Context, id string) {
	if err := p.payloads.Delete(ctx, id); err != nil {
		util.Warn().Err(err).Str("id", id).Msg("inline payload purge failed")
	}
	if err := p.meta.Delete(ctx, id); err != nil {
		util.Warn().Err(err).Str("id", id).Msg("inline metadata purge failed")
	}
}
