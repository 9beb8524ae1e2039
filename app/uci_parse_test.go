package app

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func intPtr(v int) *int { return &v }

func TestParseEngineLine(t *testing.T) {
	tests := []struct {
		name string
		line string
		want EngineMessage
	}{
		{
			name: "uciok",
			line: "uciok",
			want: EngineMessage{Kind: MsgUCIOk, Raw: "uciok"},
		},
		{
			name: "readyok",
			line: "readyok",
			want: EngineMessage{Kind: MsgReadyOk, Raw: "readyok"},
		},
		{
			name: "bestmove with ponder",
			line: "bestmove e2e4 ponder e7e5",
			want: EngineMessage{Kind: MsgBestMove, BestMove: "e2e4", Raw: "bestmove e2e4 ponder e7e5"},
		},
		{
			name: "info cp line",
			line: "info depth 18 seldepth 24 multipv 2 score cp 23 nodes 520100 nps 910000 pv e2e4 e7e5 g1f3",
			want: EngineMessage{
				Kind: MsgInfo,
				Info: &InfoLine{
					Depth:       18,
					MultiPV:     2,
					CP:          intPtr(23),
					Nodes:       520100,
					NodesPerSec: 910000,
					PV:          []string{"e2e4", "e7e5", "g1f3"},
				},
				Raw: "info depth 18 seldepth 24 multipv 2 score cp 23 nodes 520100 nps 910000 pv e2e4 e7e5 g1f3",
			},
		},
		{
			name: "info mate line",
			line: "info depth 20 score mate -3 pv h7h8",
			want: EngineMessage{
				Kind: MsgInfo,
				Info: &InfoLine{Depth: 20, Mate: intPtr(-3), PV: []string{"h7h8"}},
				Raw:  "info depth 20 score mate -3 pv h7h8",
			},
		},
		{
			name: "info string is not a search update",
			line: "info string NNUE evaluation using nn-abc.nnue",
			want: EngineMessage{Kind: MsgUnknown, Raw: "info string NNUE evaluation using nn-abc.nnue"},
		},
		{
			name: "unknown chatter",
			line: "Stockfish 16 by the Stockfish developers",
			want: EngineMessage{Kind: MsgUnknown, Raw: "Stockfish 16 by the Stockfish developers"},
		},
		{
			name: "empty line",
			line: "",
			want: EngineMessage{Kind: MsgUnknown},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseEngineLine(tt.line)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Fatalf("ParseEngineLine mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
