// Parses raw UCI output lines into a small closed set of tagged messages.
// Nothing outside this file should ever re-parse engine text.

package app

import (
	"strconv"
	"strings"
)

type MsgKind int

const (
	MsgUnknown MsgKind = iota
	MsgUCIOk
	MsgReadyOk
	MsgInfo
	MsgBestMove
)

// InfoLine is a parsed "info ..." line. Fields the engine omitted are zero.
type InfoLine struct {
	Depth       int
	MultiPV     int
	CP          *int
	Mate        *int
	Nodes       int64
	NodesPerSec int64
	PV          []string
}

// EngineMessage is one tagged line of engine output.
type EngineMessage struct {
	Kind     MsgKind
	Info     *InfoLine
	BestMove string
	Raw      string
}

// ParseEngineLine classifies one raw output line.
func ParseEngineLine(line string) EngineMessage {
	msg := EngineMessage{Kind: MsgUnknown, Raw: line}
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return msg
	}

	switch fields[0] {
	case "uciok":
		msg.Kind = MsgUCIOk
	case "readyok":
		msg.Kind = MsgReadyOk
	case "bestmove":
		msg.Kind = MsgBestMove
		if len(fields) >= 2 {
			msg.BestMove = fields[1]
		}
	case "info":
		if info := parseInfoFields(fields[1:]); info != nil {
			msg.Kind = MsgInfo
			msg.Info = info
		}
	}
	return msg
}

// parseInfoFields walks "info" tokens pairwise. Returns nil for info lines
// with no search payload (e.g. "info string ...").
func parseInfoFields(fields []string) *InfoLine {
	info := &InfoLine{}
	seen := false
	for i := 0; i < len(fields); i++ {
		switch fields[i] {
		case "depth":
			if i+1 < len(fields) {
				info.Depth, _ = strconv.Atoi(fields[i+1])
				seen = true
				i++
			}
		case "multipv":
			if i+1 < len(fields) {
				info.MultiPV, _ = strconv.Atoi(fields[i+1])
				i++
			}
		case "score":
			if i+2 < len(fields) {
				v, err := strconv.Atoi(fields[i+2])
				if err == nil {
					switch fields[i+1] {
					case "cp":
						info.CP = &v
						seen = true
					case "mate":
						info.Mate = &v
						seen = true
					}
				}
				i += 2
			}
		case "nodes":
			if i+1 < len(fields) {
				info.Nodes, _ = strconv.ParseInt(fields[i+1], 10, 64)
				i++
			}
		case "nps":
			if i+1 < len(fields) {
				info.NodesPerSec, _ = strconv.ParseInt(fields[i+1], 10, 64)
				i++
			}
		case "string":
			// informational only, never a search update
			return nil
		case "pv":
			info.PV = append([]string(nil), fields[i+1:]...)
			return info
		}
	}
	if !seen {
		return nil
	}
	return info
}
