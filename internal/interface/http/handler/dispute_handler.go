package handler

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/ignatzorin/carpool-escrow/internal/domain/entity"
	"github.com/ignatzorin/carpool-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/carpool-escrow/internal/interface/http/dto"
	"github.com/ignatzorin/carpool-escrow/internal/interface/http/response"
)

type DisputeService interface {
	ListOpen(ctx context.Context, limit, offset int) ([]*entity.Dispute, error)
	Resolve(ctx context.Context, id uuid.UUID, outcome valueobject.DisputeOutcome, actor valueobject.Actor) (*entity.Dispute, error)
}

// DisputeHandler - административные операции над спорами.
type DisputeHandler struct {
	disputes DisputeService
}

func NewDisputeHandler(disputes DisputeService) *DisputeHandler {
	return &DisputeHandler{disputes: disputes}
}

// ListOpen обслуживает GET /api/admin/disputes?limit=&offset=.
func (h *DisputeHandler) ListOpen(c *gin.Context) {
	limit := parseIntQuery(c, "limit", 50, 200)
	offset := parseIntQuery(c, "offset", 0, 0)

	disputes, err := h.disputes.ListOpen(c.Request.Context(), limit, offset)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Paginated(c, dto.ToDisputeResponses(disputes), len(disputes), limit, offset)
}

// Resolve обслуживает POST /api/admin/disputes/:id/resolve.
func (h *DisputeHandler) Resolve(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	var req dto.ResolveDisputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "outcome должен быть REFUND или CAPTURE")
		return
	}
	outcome, err := valueobject.NewDisputeOutcome(req.Outcome)
	if err != nil {
		response.Error(c, err)
		return
	}

	d, err := h.disputes.Resolve(c.Request.Context(), id, outcome, actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, dto.ToDisputeResponse(d))
}
