// The engine worker pool: runs the two-stage discovery -> evaluation
// pipeline for one base position at a time, sized by the resource budget.
// A new request supersedes the old one; stale results are dropped.

package app

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/Zinkelburger/Chess-Auto-Prep-sub003/app/models"
)

// MoveSource supplies extra candidate moves for a position, e.g. from a
// database of previously analyzed games.
type MoveSource interface {
	CandidateMoves(ctx context.Context, fen string) ([]string, error)
}

// SnapshotSink receives complete snapshots for durable storage.
type SnapshotSink interface {
	SaveSnapshot(ctx context.Context, snap *models.PositionSnapshot) error
}

type PoolConfig struct {
	EnginePath       string
	MaxWorkers       int
	MaxLoadPercent   int
	HashCeilingMb    int
	DiscoveryDepth   int
	DiscoveryLines   int // MultiPV width
	EvalDepth        int
	EaseDepth        int
	EaseMoves        int // top candidates that get a per-move ease pass
	EaseCandidates   int // candidate cap inside each per-move ease pass
	ThreadsPerWorker int
	Elo              int
}

type EnginePool struct {
	cfg    PoolConfig
	probs  MoveProbSource
	ease   *EaseEvaluator
	cache  *AnalysisCache
	moveDB MoveSource
	sink   SnapshotSink
	log    zerolog.Logger

	snapshot SnapshotFunc
	spawn    func(path string) (*Conn, error)

	mu        sync.Mutex
	conns     []*Conn
	state     models.PoolState
	status    models.PoolStatus
	subs      map[chan models.PoolStatus]struct{}
	gen       uint64
	cancelRun context.CancelFunc

	runMu sync.Mutex // one pipeline run at a time
}

func NewEnginePool(cfg PoolConfig, probs MoveProbSource, cache *AnalysisCache, log zerolog.Logger) *EnginePool {
	if cfg.MaxWorkers < 1 {
		cfg.MaxWorkers = 1
	}
	if cfg.DiscoveryLines < 1 {
		cfg.DiscoveryLines = 1
	}
	if cfg.ThreadsPerWorker < 1 {
		cfg.ThreadsPerWorker = 1
	}
	if cfg.EaseCandidates < 1 {
		cfg.EaseCandidates = 4
	}
	return &EnginePool{
		cfg:      cfg,
		probs:    probs,
		ease:     NewEaseEvaluator(probs, log),
		cache:    cache,
		log:      log,
		snapshot: ReadSystemSnapshot,
		spawn:    func(path string) (*Conn, error) { return NewConn(path, log) },
		status:   models.PoolStatus{Phase: models.PhaseIdle},
		subs:     make(map[chan models.PoolStatus]struct{}),
	}
}

// SetMoveSource attaches an optional database move source.
func (p *EnginePool) SetMoveSource(src MoveSource) { p.moveDB = src }

// SetSnapshotSink attaches an optional archive for complete snapshots.
func (p *EnginePool) SetSnapshotSink(sink SnapshotSink) { p.sink = sink }

// SetSnapshotFunc overrides the host reading, for tests.
func (p *EnginePool) SetSnapshotFunc(fn SnapshotFunc) { p.snapshot = fn }

// SetSpawnFunc overrides engine process creation, for tests.
func (p *EnginePool) SetSpawnFunc(fn func(path string) (*Conn, error)) { p.spawn = fn }

// State reports the pool's own current allocation, fed back into the
// allocator as reclaimable headroom.
func (p *EnginePool) State() models.PoolState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Status is the live progress snapshot.
func (p *EnginePool) Status() models.PoolStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	st := p.status
	st.InFlight = append([]string(nil), p.status.InFlight...)
	return st
}

// Subscribe delivers status updates on a buffered channel. When a slow
// consumer falls behind, the oldest unread update is dropped; engine I/O
// is never blocked on a subscriber.
func (p *EnginePool) Subscribe() (<-chan models.PoolStatus, func()) {
	ch := make(chan models.PoolStatus, 8)
	p.mu.Lock()
	p.subs[ch] = struct{}{}
	p.mu.Unlock()
	cancel := func() {
		p.mu.Lock()
		if _, ok := p.subs[ch]; ok {
			delete(p.subs, ch)
			close(ch)
		}
		p.mu.Unlock()
	}
	return ch, cancel
}

// publishLocked pushes the current status to all subscribers. Callers hold p.mu.
func (p *EnginePool) publishLocked() {
	st := p.status
	st.InFlight = append([]string(nil), p.status.InFlight...)
	for ch := range p.subs {
		select {
		case ch <- st:
		default:
			select { // full: drop the oldest update
			case <-ch:
			default:
			}
			select {
			case ch <- st:
			default:
			}
		}
	}
}

func (p *EnginePool) setPhase(gen uint64, mut func(st *models.PoolStatus)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if gen != p.gen {
		return // stale run, don't clobber the live status
	}
	mut(&p.status)
	p.publishLocked()
}

// Cancel stops all in-flight searches and marks the current request
// generation stale so late results are discarded.
func (p *EnginePool) Cancel() {
	p.mu.Lock()
	p.gen++
	if p.cancelRun != nil {
		p.cancelRun()
		p.cancelRun = nil
	}
	for _, c := range p.conns {
		c.StopSearch()
	}
	p.status = models.PoolStatus{Phase: models.PhaseIdle}
	p.publishLocked()
	p.mu.Unlock()
}

// Dispose quiesces all searches and disposes every connection before
// returning, so no engine process outlives the pool.
func (p *EnginePool) Dispose() {
	p.Cancel()
	p.mu.Lock()
	conns := p.conns
	p.conns = nil
	p.state = models.PoolState{}
	p.mu.Unlock()
	for _, c := range conns {
		c.Dispose()
	}
}

// Analyze runs the full pipeline for one position and returns its complete
// snapshot. A concurrent call for another position supersedes this one,
// which then returns ErrSuperseded.
func (p *EnginePool) Analyze(ctx context.Context, fen string) (*models.PositionSnapshot, error) {
	if p.cache != nil {
		if snap, ok := p.cache.Get(fen); ok {
			return snap, nil
		}
	}

	// Supersede whatever is running.
	p.mu.Lock()
	p.gen++
	myGen := p.gen
	if p.cancelRun != nil {
		p.cancelRun()
		p.cancelRun = nil
	}
	for _, c := range p.conns {
		c.StopSearch()
	}
	p.mu.Unlock()

	p.runMu.Lock()
	defer p.runMu.Unlock()

	p.mu.Lock()
	if p.gen != myGen {
		p.mu.Unlock()
		return nil, ErrSuperseded
	}
	runCtx, cancel := context.WithCancel(ctx)
	p.cancelRun = cancel
	p.mu.Unlock()
	defer cancel()

	snap, err := p.run(runCtx, myGen, fen)
	if err != nil {
		if p.superseded(myGen) {
			return nil, ErrSuperseded
		}
		// nothing is in progress anymore; don't report a phantom run
		p.setPhase(myGen, func(st *models.PoolStatus) {
			*st = models.PoolStatus{Phase: models.PhaseIdle}
		})
		return nil, err
	}
	return snap, nil
}

func (p *EnginePool) superseded(gen uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.gen != gen
}

func (p *EnginePool) run(ctx context.Context, gen uint64, fen string) (*models.PositionSnapshot, error) {
	started := time.Now()

	// Stage 1: discovery.
	p.setPhase(gen, func(st *models.PoolStatus) {
		*st = models.PoolStatus{Phase: models.PhaseDiscovering, FEN: fen}
	})
	disc, dist, err := p.discover(ctx, fen)
	if err != nil {
		return nil, err
	}

	moves := p.selectMoves(ctx, fen, disc, dist)
	if len(moves) == 0 {
		return nil, ErrNoCandidates
	}

	// Stage 2: parallel per-move evaluation.
	results, err := p.evaluateAll(ctx, gen, fen, moves, dist)
	if err != nil {
		return nil, err
	}
	if p.superseded(gen) {
		return nil, ErrSuperseded
	}

	snap := &models.PositionSnapshot{
		FEN:           fen,
		Moves:         moves,
		Probabilities: dist,
		Results:       results,
		Discovery:     disc,
		CreatedAt:     time.Now(),
	}
	p.attachBaseEase(ctx, fen, snap)

	if p.cache != nil {
		p.cache.Put(fen, snap)
	}
	if p.sink != nil {
		if err := p.sink.SaveSnapshot(ctx, snap); err != nil {
			p.log.Warn().Err(err).Str("fen", fen).Msg("archive save failed")
		}
	}

	p.setPhase(gen, func(st *models.PoolStatus) {
		st.Phase = models.PhaseComplete
		st.InFlight = nil
	})
	p.log.Info().
		Str("fen", fen).
		Int("moves", len(moves)).
		Dur("took", time.Since(started)).
		Msg("analysis complete")
	return snap, nil
}

// discover runs the MultiPV reference search and, in parallel on the
// caller's goroutine budget, fetches the human-move distribution.
func (p *EnginePool) discover(ctx context.Context, fen string) (models.DiscoveryResult, map[string]float64, error) {
	conn, err := p.reserveConn(ctx)
	if err != nil {
		return models.DiscoveryResult{}, nil, err
	}

	var dist map[string]float64
	var distErr error
	distDone := make(chan struct{})
	go func() {
		defer close(distDone)
		if p.probs == nil {
			return
		}
		dist, distErr = p.probs.Evaluate(ctx, fen, p.cfg.Elo)
	}()

	disc, err := conn.SearchMultiPV(ctx, fen, p.cfg.DiscoveryDepth, p.cfg.DiscoveryLines)
	if err != nil {
		if errors.Is(err, ErrWorkerDisconnected) {
			p.dropConn(conn)
		}
		return models.DiscoveryResult{}, nil, err
	}

	<-distDone
	if distErr != nil {
		// degrade to engine-only candidates; ease will be unavailable
		p.log.Warn().Err(distErr).Msg("move-probability model unavailable")
		dist = nil
	}
	return disc, dist, nil
}

// selectMoves merges discovery lines, predicted human moves, and database
// moves into one deduplicated candidate list. Only legal moves survive.
func (p *EnginePool) selectMoves(ctx context.Context, fen string, disc models.DiscoveryResult, dist map[string]float64) []string {
	legal := map[string]bool{}
	if all, err := legalUCIMoves(fen); err == nil {
		for _, m := range all {
			legal[m] = true
		}
	}

	seen := map[string]bool{}
	var moves []string
	add := func(uci string) {
		if uci == "" || seen[uci] || (len(legal) > 0 && !legal[uci]) {
			return
		}
		seen[uci] = true
		moves = append(moves, uci)
	}

	for _, line := range disc.Lines {
		if len(line.Moves) > 0 {
			add(line.Moves[0])
		}
	}
	for _, cand := range selectCandidates(dist, 0) {
		add(cand.MoveUCI)
	}
	if p.moveDB != nil {
		if extra, err := p.moveDB.CandidateMoves(ctx, fen); err == nil {
			for _, m := range extra {
				add(m)
			}
		} else {
			p.log.Warn().Err(err).Msg("database move source unavailable")
		}
	}
	return moves
}

// evaluateAll fans the candidate moves out across up to workerCapacity
// connections. Within one worker moves run sequentially; across workers
// completion order is unspecified, so results merge into a map under lock.
func (p *EnginePool) evaluateAll(ctx context.Context, gen uint64, fen string, moves []string, dist map[string]float64) (map[string]models.MoveAnalysisResult, error) {
	sys, err := p.snapshot()
	if err != nil {
		p.log.Warn().Err(err).Msg("host snapshot failed, degrading to floor")
		sys = models.SystemSnapshot{} // yields the 1-worker/minimum-hash floor
	}
	budget := ComputeBudget(sys, p.cfg.MaxLoadPercent, p.cfg.MaxWorkers, p.cfg.HashCeilingMb, p.State())

	want := budget.WorkerCapacity
	if want > len(moves) {
		want = len(moves)
	}
	conns, hash, err := p.readyConnsWithHash(ctx, want, budget.HashPerWorkerMb)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.state = models.PoolState{WorkerCount: len(conns), HashPerWorkerMb: hash}
	p.mu.Unlock()

	easeSet := p.easeSubset(moves, dist)

	p.setPhase(gen, func(st *models.PoolStatus) {
		st.Phase = models.PhaseEvaluating
		st.Total = len(moves)
		st.Completed = 0
		st.ActiveWorkers = len(conns)
		st.HashPerWorkerMb = hash
	})

	var (
		resMu     sync.Mutex
		results   = make(map[string]models.MoveAnalysisResult, len(moves))
		remaining = int64(len(moves))
		live      = int32(len(conns))
		closeOnce sync.Once
	)
	jobs := make(chan string, len(moves)+len(conns))
	for _, m := range moves {
		jobs <- m
	}
	closeJobs := func() { closeOnce.Do(func() { close(jobs) }) }

	record := func(move string, res models.MoveAnalysisResult) {
		resMu.Lock()
		results[move] = res
		resMu.Unlock()
		p.setPhase(gen, func(st *models.PoolStatus) {
			st.Completed++
			st.InFlight = removeString(st.InFlight, move)
		})
		if atomic.AddInt64(&remaining, -1) == 0 {
			closeJobs()
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, conn := range conns {
		conn := conn
		g.Go(func() error {
			for move := range jobs {
				p.setPhase(gen, func(st *models.PoolStatus) {
					st.InFlight = append(st.InFlight, move)
				})
				res, err := p.evaluateMove(gctx, conn, fen, move, easeSet[move])
				if err != nil {
					if gctx.Err() != nil {
						return gctx.Err()
					}
					if errors.Is(err, ErrWorkerDisconnected) || errors.Is(err, ErrNotReady) || !conn.Alive() {
						// drop this worker; hand its move to a survivor
						p.dropConn(conn)
						left := atomic.AddInt32(&live, -1)
						if left > 0 {
							p.setPhase(gen, func(st *models.PoolStatus) {
								st.ActiveWorkers = int(left)
								st.InFlight = removeString(st.InFlight, move)
							})
							jobs <- move
						} else {
							record(move, models.MoveAnalysisResult{MoveUCI: move, Missing: true})
						}
						return nil
					}
					// move-level failure (e.g. unplayable candidate)
					p.log.Warn().Str("move", move).Err(err).Msg("candidate evaluation failed")
					record(move, models.MoveAnalysisResult{MoveUCI: move, Missing: true})
					continue
				}
				record(move, res)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	// every worker died: mark whatever is still queued so the stage
	// reaches complete
	closeJobs()
	for move := range jobs {
		record(move, models.MoveAnalysisResult{MoveUCI: move, Missing: true})
	}
	return results, nil
}

// evaluateMove plays the move, evaluates the resulting position, and for
// the selected subset computes the ease of that position with a lighter
// recursive pass.
func (p *EnginePool) evaluateMove(ctx context.Context, conn *Conn, fen, move string, withEase bool) (models.MoveAnalysisResult, error) {
	childFEN, err := fenAfterMove(fen, move)
	if err != nil {
		return models.MoveAnalysisResult{}, err
	}
	out, err := conn.EvalPosition(ctx, childFEN, p.cfg.EvalDepth)
	if err != nil {
		return models.MoveAnalysisResult{}, err
	}

	// normalize to White's point of view
	score := out.Score
	if sideToMove(childFEN) == "b" {
		score = score.Negate()
	}

	res := models.MoveAnalysisResult{
		MoveUCI: move,
		Score:   score,
		PV:      append([]string{move}, out.PV...),
		Depth:   out.Depth,
	}

	if withEase && p.probs != nil {
		er, err := p.ease.Evaluate(ctx, conn, childFEN, EaseOptions{
			Elo:           p.cfg.Elo,
			Depth:         p.cfg.EaseDepth,
			MaxCandidates: p.cfg.EaseCandidates,
		})
		switch {
		case err == nil:
			res.Ease = &er.Ease
		case errors.Is(err, ErrNoCandidates):
			// no data, not zero
		case ctx.Err() != nil:
			return models.MoveAnalysisResult{}, ctx.Err()
		case errors.Is(err, ErrWorkerDisconnected):
			return models.MoveAnalysisResult{}, err
		default:
			p.log.Warn().Str("move", move).Err(err).Msg("per-move ease unavailable")
		}
	}
	return res, nil
}

// easeSubset picks which candidates get the per-move ease pass: the most
// probable human replies, falling back to list order without a model.
func (p *EnginePool) easeSubset(moves []string, dist map[string]float64) map[string]bool {
	n := p.cfg.EaseMoves
	if n <= 0 || p.probs == nil {
		return map[string]bool{}
	}
	set := make(map[string]bool, n)
	if len(dist) > 0 {
		for _, cand := range selectCandidates(dist, n) {
			set[cand.MoveUCI] = true
			if len(set) >= n {
				return set
			}
		}
	}
	for _, m := range moves {
		if len(set) >= n {
			break
		}
		set[m] = true
	}
	return set
}

// attachBaseEase computes the ease of the base position itself, using the
// full configured depth. Failures leave the snapshot without ease.
func (p *EnginePool) attachBaseEase(ctx context.Context, fen string, snap *models.PositionSnapshot) {
	if p.probs == nil || len(snap.Probabilities) == 0 {
		return
	}
	p.mu.Lock()
	var conn *Conn
	for _, c := range p.conns {
		if c.Alive() {
			conn = c
			break
		}
	}
	p.mu.Unlock()
	if conn == nil {
		return
	}
	er, err := p.ease.Evaluate(ctx, conn, fen, EaseOptions{
		Elo:   p.cfg.Elo,
		Depth: p.cfg.EaseDepth,
	})
	if err != nil {
		if !errors.Is(err, ErrNoCandidates) {
			p.log.Warn().Err(err).Str("fen", fen).Msg("base ease unavailable")
		}
		return
	}
	snap.Ease = er
}

// reserveConn returns one handshaken connection for the discovery search,
// reusing a live one when possible. The rest of the pool is left running:
// the published allocation must keep matching the processes that actually
// hold memory until the evaluation stage recomputes the budget.
func (p *EnginePool) reserveConn(ctx context.Context) (*Conn, error) {
	p.mu.Lock()
	hash := p.state.HashPerWorkerMb
	for _, c := range p.conns {
		if c.Alive() {
			p.mu.Unlock()
			return c, nil
		}
	}
	p.mu.Unlock()

	if hash == 0 {
		hash = MinHashPerWorkerMb
	}
	c, err := p.spawn(p.cfg.EnginePath)
	if err != nil {
		return nil, err
	}
	if err := c.WaitForReady(ctx); err != nil {
		c.Dispose()
		return nil, err
	}
	_ = c.SetOption("Hash", hash)
	_ = c.SetOption("Threads", p.cfg.ThreadsPerWorker)

	p.mu.Lock()
	p.conns = append(p.conns, c)
	p.mu.Unlock()
	return c, nil
}

// readyConnsWithHash reuses live connections and spawns the shortfall,
// configuring Hash and Threads on each. Spawn or handshake failures
// degrade the worker count; only a total failure is an error.
func (p *EnginePool) readyConnsWithHash(ctx context.Context, n, hashMb int) ([]*Conn, int, error) {
	p.mu.Lock()
	var conns, surplus []*Conn
	for _, c := range p.conns {
		if c.Alive() && len(conns) < n {
			conns = append(conns, c)
		} else {
			surplus = append(surplus, c)
		}
	}
	p.mu.Unlock()
	// scale-down actually releases the memory the allocator reclaimed
	for _, c := range surplus {
		go c.Dispose()
	}

	var spawnErr error
	for len(conns) < n {
		c, err := p.spawn(p.cfg.EnginePath)
		if err != nil {
			spawnErr = err
			break
		}
		if err := c.WaitForReady(ctx); err != nil {
			c.Dispose()
			spawnErr = err
			break
		}
		conns = append(conns, c)
	}
	if len(conns) == 0 {
		if spawnErr == nil {
			spawnErr = ErrProcessSpawn
		}
		return nil, 0, spawnErr
	}
	if spawnErr != nil {
		p.log.Warn().Err(spawnErr).Int("wanted", n).Int("got", len(conns)).
			Msg("running with fewer workers")
	}

	for _, c := range conns {
		_ = c.SetOption("Hash", hashMb)
		_ = c.SetOption("Threads", p.cfg.ThreadsPerWorker)
	}

	p.mu.Lock()
	p.conns = conns
	p.mu.Unlock()
	return conns, hashMb, nil
}

// dropConn removes a dead connection from the pool and reaps its process.
func (p *EnginePool) dropConn(conn *Conn) {
	p.mu.Lock()
	kept := p.conns[:0]
	for _, c := range p.conns {
		if c != conn {
			kept = append(kept, c)
		}
	}
	p.conns = kept
	if p.state.WorkerCount > len(kept) {
		p.state.WorkerCount = len(kept)
	}
	p.mu.Unlock()
	go conn.Dispose()
}

func removeString(list []string, s string) []string {
	for i, v := range list {
		if v == s {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}
