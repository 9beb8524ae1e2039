// The ease metric: how forgiving a position is for the side to move.
// Candidate moves come from the human-move model; each one's regret
// against the position's best line is weighted by how likely a human is
// to play it.

package app

import (
	"context"
	"math"
	"sort"

	"github.com/rs/zerolog"

	"github.com/Zinkelburger/Chess-Auto-Prep-sub003/app/models"
)

const (
	easeSigmoidK = 0.004 // cp-to-quality steepness
	easeProbExp  = 1.5   // super-linear downweight of unlikely moves
	easeRootExp  = 1.0 / 3.0

	candidateMinProb = 0.01
	candidateCumProb = 0.90
)

// PositionEvaluator is anything that can score a single position. *Conn
// satisfies it; tests use fakes.
type PositionEvaluator interface {
	EvalPosition(ctx context.Context, fen string, depth int) (EvalOutcome, error)
}

type EaseOptions struct {
	Elo   int
	Depth int
	// SafetyFactor scales the final ease; zero means 1.0. Kept as an
	// extension point for engines that report win/draw/loss stats.
	SafetyFactor float64
	// MaxCandidates caps the candidate list; zero means no cap. The
	// per-move recursive pass sets a small cap to bound cost.
	MaxCandidates int
}

type EaseEvaluator struct {
	probs MoveProbSource
	log   zerolog.Logger
}

func NewEaseEvaluator(probs MoveProbSource, log zerolog.Logger) *EaseEvaluator {
	return &EaseEvaluator{probs: probs, log: log}
}

// selectCandidates orders the distribution by probability and keeps moves
// with probability >= 1% until 90% cumulative probability is covered.
func selectCandidates(dist map[string]float64, maxN int) []models.MoveProb {
	moves := make([]models.MoveProb, 0, len(dist))
	for uci, p := range dist {
		if p >= candidateMinProb {
			moves = append(moves, models.MoveProb{MoveUCI: uci, Prob: p})
		}
	}
	sort.Slice(moves, func(i, j int) bool {
		if moves[i].Prob != moves[j].Prob {
			return moves[i].Prob > moves[j].Prob
		}
		return moves[i].MoveUCI < moves[j].MoveUCI
	})

	out := moves[:0]
	cum := 0.0
	for _, m := range moves {
		out = append(out, m)
		cum += m.Prob
		if cum >= candidateCumProb {
			break
		}
		if maxN > 0 && len(out) >= maxN {
			break
		}
	}
	if maxN > 0 && len(out) > maxN {
		out = out[:maxN]
	}
	return out
}

// qualityValue maps an engine score (side to move's point of view) into
// [-1,1]. A decisive mate saturates to the corresponding bound.
func qualityValue(s models.UCIScore) float64 {
	if s.Mate != nil {
		if *s.Mate >= 0 {
			return 1
		}
		return -1
	}
	if s.CP == nil {
		return 0
	}
	cp := float64(*s.CP)
	sig := 1 / (1 + math.Exp(-easeSigmoidK*cp))
	return clamp(2*sig-1, -1, 1)
}

// Evaluate computes the ease of the position for the side to move, using
// the given evaluator for the reference search and every candidate reply.
func (e *EaseEvaluator) Evaluate(ctx context.Context, eval PositionEvaluator, fen string, opts EaseOptions) (*models.EaseResult, error) {
	dist, err := e.probs.Evaluate(ctx, fen, opts.Elo)
	if err != nil {
		return nil, err
	}
	cands := selectCandidates(dist, opts.MaxCandidates)
	if len(cands) == 0 {
		return nil, ErrNoCandidates
	}

	// Reference ("ceiling") search of the base position.
	base, err := eval.EvalPosition(ctx, fen, opts.Depth)
	if err != nil {
		return nil, err
	}
	maxQ := qualityValue(base.Score)

	sum := 0.0
	regrets := make([]models.MoveRegret, 0, len(cands))
	for _, cand := range cands {
		childFEN, err := fenAfterMove(fen, cand.MoveUCI)
		if err != nil {
			e.log.Warn().Str("fen", fen).Str("move", cand.MoveUCI).Err(err).
				Msg("skipping unplayable predicted move")
			continue
		}
		child, err := eval.EvalPosition(ctx, childFEN, opts.Depth)
		if err != nil {
			return nil, err
		}
		// negate: the child score is from the opponent's perspective
		q := qualityValue(child.Score.Negate())
		regret := math.Max(0, maxQ-q)
		sum += math.Pow(cand.Prob, easeProbExp) * regret
		regrets = append(regrets, models.MoveRegret{
			MoveUCI: cand.MoveUCI,
			Prob:    cand.Prob,
			Quality: q,
			Regret:  regret,
		})
	}
	if len(regrets) == 0 {
		return nil, ErrNoCandidates
	}

	// The half-sum must be clamped to <=1 before the root to stay
	// real-valued and monotonic.
	raw := 1 - math.Pow(clamp(sum/2, 0, 1), easeRootExp)
	safety := opts.SafetyFactor
	if safety == 0 {
		safety = 1
	}
	return &models.EaseResult{
		Ease:     clamp(raw*safety, 0, 1),
		RawEase:  raw,
		BestMove: base.Score.Best,
		CeilingQ: maxQ,
		Regrets:  regrets,
		TopMoves: cands,
	}, nil
}
