package ws

import (
	"context"
	"errors"

	"tilecraft.ai/internal/protocol"
	"tilecraft.ai/internal/sim/effects"
	"tilecraft.ai/internal/sim/engine"
	"tilecraft.ai/internal/sim/grid"
)

func pos(p [2]int) grid.Pos { return grid.Pos{X: p[0], Y: p[1]} }

func arr(p *grid.Pos) *[2]int {
	if p == nil {
		return nil
	}
	a := p.ToArray()
	return &a
}

func blockInfo(b grid.Block) protocol.BlockInfo {
	return protocol.BlockInfo{ID: uint64(b.ID), Type: string(b.Type), Tier: b.Tier, Pos: b.Pos.ToArray()}
}

// CodeFor maps request errors to protocol error codes.
func CodeFor(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, grid.ErrCorrupted):
		return protocol.ErrInternal
	case errors.Is(err, grid.ErrOccupied):
		return protocol.ErrConflict
	case errors.Is(err, grid.ErrEmpty), errors.Is(err, grid.ErrUnknownBlock):
		return protocol.ErrInvalidTarget
	case errors.Is(err, grid.ErrOutOfBounds), errors.Is(err, grid.ErrUnknownType), errors.Is(err, grid.ErrInvalidTier):
		return protocol.ErrBadRequest
	case errors.Is(err, engine.ErrStopped), errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return protocol.ErrBusy
	default:
		return protocol.ErrInternal
	}
}

func nack(reqID, code, msg string) *protocol.AckMsg {
	return &protocol.AckMsg{Type: protocol.TypeAck, ProtocolVersion: protocol.Version, ReqID: reqID, Code: code, Message: msg}
}

func result(reqID string, res engine.Result, err error) *protocol.AckMsg {
	if err != nil {
		return nack(reqID, CodeFor(err), err.Error())
	}
	return &protocol.AckMsg{
		Type:            protocol.TypeAck,
		ProtocolVersion: protocol.Version,
		ReqID:           reqID,
		OK:              true,
		BlockID:         uint64(res.BlockID),
		ChainID:         res.ChainID.String(),
		Steps:           res.Steps,
	}
}

// EffectMessage is the wire form of an effect.
func EffectMessage(e effects.Effect) protocol.EffectMsg {
	m := protocol.EffectMsg{
		Type:            protocol.TypeEffect,
		ProtocolVersion: protocol.Version,
		Seq:             e.Seq,
		Kind:            string(e.Kind),
		TimeMs:          e.Time.UnixMilli(),
		ChainID:         e.ChainID.String(),
		Step:            e.Step,
		BlockID:         uint64(e.BlockID),
		BlockType:       string(e.Type),
		Tier:            e.Tier,
		From:            arr(e.From),
		To:              arr(e.To),
		Pattern:         string(e.Pattern),
		Error:           e.Error,
	}
	for _, p := range e.Positions {
		m.Positions = append(m.Positions, p.ToArray())
	}
	for _, id := range e.BlockIDs {
		m.BlockIDs = append(m.BlockIDs, uint64(id))
	}
	if e.Reward != nil {
		m.Reward = &protocol.Reward{Resource: e.Reward.Resource, Amount: e.Reward.Amount.String()}
	}
	return m
}
