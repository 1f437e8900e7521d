package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/socialfeed/internal/model"
)

// VoteService は投票ハンドラーが必要とするサービスインターフェース。
type VoteService interface {
	// CastVote は投票セルの状態を遷移させ、新しい状態と最新スコアを返す。
	CastVote(ctx context.Context, voterID, postID string, direction model.VoteDirection) (*model.VoteResult, error)
}

// VoteHandler は投票のHTTPハンドラー。
type VoteHandler struct {
	service VoteService
}

// NewVoteHandler はVoteHandlerを生成する。
func NewVoteHandler(service VoteService) *VoteHandler {
	return &VoteHandler{service: service}
}

// voteRequest は投票リクエストのボディ。
// direction の値検証は投票台帳が INVALID_DIRECTION として行う。
type voteRequest struct {
	Voter     string `json:"voter" validate:"omitempty,max=255"`
	Post      string `json:"post" validate:"required,max=255"`
	Direction string `json:"direction"`
}

// voteResponse は投票結果のレスポンス。
type voteResponse struct {
	Post     string        `json:"post"`
	State    string        `json:"state"`
	Previous string        `json:"previous"`
	Score    scoreResponse `json:"score"`
}

// scoreResponse は投稿スコアのレスポンス表現。
type scoreResponse struct {
	Value     int `json:"value"`
	Upvotes   int `json:"upvotes"`
	Downvotes int `json:"downvotes"`
}

func toScoreResponse(s model.Score) scoreResponse {
	return scoreResponse{Value: s.Value, Upvotes: s.Up, Downvotes: s.Down}
}

// CastVote は投票を処理する。同じ向きの再投票は取り消しになる。
// POST /api/vote
func (h *VoteHandler) CastVote(w http.ResponseWriter, r *http.Request) {
	callerID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req voteRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if req.Voter != "" && req.Voter != callerID {
		writeAPIErrorResponse(w, http.StatusForbidden,
			model.NewForbiddenError("他のユーザーとして投票はできません"))
		return
	}

	result, err := h.service.CastVote(r.Context(), callerID, req.Post, model.VoteDirection(req.Direction))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, voteResponse{
		Post:     result.PostID,
		State:    string(result.State),
		Previous: string(result.Previous),
		Score:    toScoreResponse(result.Score),
	})
}
