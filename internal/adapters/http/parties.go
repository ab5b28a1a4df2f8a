package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/pairview/watchparty/internal/app"
	"github.com/pairview/watchparty/internal/domain"
	"github.com/pairview/watchparty/internal/store"
)

// PartyAPI is the membership-lifecycle surface: everything here mutates the
// durable record only; live channels react when members attach over WS.
type PartyAPI struct {
	Coord *app.Coordinator
	Store store.PartyStore
}

type createPartyRequest struct {
	Name               string `json:"name" binding:"required"`
	Service            string `json:"service"`
	MaxMembers         int    `json:"max_members"`
	AllowMemberControl *bool  `json:"allow_member_control"`
}

func (a *PartyAPI) Create(c *gin.Context) {
	var req createPartyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
		return
	}
	settings := domain.DefaultSettings()
	if req.MaxMembers > 0 {
		settings.MaxMembers = req.MaxMembers
	}
	if req.AllowMemberControl != nil {
		settings.AllowMemberControl = *req.AllowMemberControl
	}

	p, err := a.Coord.CreateParty(c.Request.Context(), req.Name, req.Service, identity(c), settings)
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Msg("create party")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create party"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"party": p})
}

func (a *PartyAPI) Join(c *gin.Context) {
	var req struct {
		PartyCode string `json:"party_code" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "party_code is required"})
		return
	}
	v, err := a.Coord.Join(c.Request.Context(), domain.PartyCode(req.PartyCode), identity(c))
	if err != nil {
		a.writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"party": v.Party})
}

func (a *PartyAPI) Get(c *gin.Context) {
	v, err := a.Store.Load(c.Request.Context(), domain.PartyCode(c.Param("code")))
	if err != nil {
		a.writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"party": v.Party})
}

func (a *PartyAPI) Leave(c *gin.Context) {
	_, err := a.Coord.Leave(c.Request.Context(), domain.PartyCode(c.Param("code")), identity(c))
	if err != nil {
		a.writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "left party"})
}

func (a *PartyAPI) SetContent(c *gin.Context) {
	var req domain.Content
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad content payload"})
		return
	}
	v, err := a.Coord.SetContent(c.Request.Context(), domain.PartyCode(c.Param("code")), identity(c), req)
	if err != nil {
		a.writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"party": v.Party})
}

func (a *PartyAPI) ListActive(c *gin.Context) {
	list, err := a.Store.ListActiveByMember(c.Request.Context(), identity(c))
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Msg("list parties")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list parties"})
		return
	}
	parties := make([]domain.Party, 0, len(list))
	for _, v := range list {
		parties = append(parties, v.Party)
	}
	c.JSON(http.StatusOK, gin.H{"parties": parties})
}

func (a *PartyAPI) writeErr(c *gin.Context, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "party not found"})
	case errors.Is(err, domain.ErrPartyFull):
		c.JSON(http.StatusBadRequest, gin.H{"error": "party is full"})
	case errors.Is(err, domain.ErrAlreadyMember):
		c.JSON(http.StatusBadRequest, gin.H{"error": "already a member of this party"})
	case errors.Is(err, domain.ErrNotAMember):
		c.JSON(http.StatusForbidden, gin.H{"error": "not a member of this party"})
	case errors.Is(err, store.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "concurrent update, retry"})
	default:
		log.Error().Err(err).Str("module", "adapters.http").Msg("party api")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
