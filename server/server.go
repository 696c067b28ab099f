// Package server exposes the negotiation, escrow and referee flows over a
// small JSON HTTP API and owns the wiring between them: the referee's
// payout trigger is the escrow coordinator, and clients never name a
// winner address directly.
package server

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/decred/slog"
	"github.com/gin-gonic/gin"

	"github.com/vctt94/gridwager/escrow"
	"github.com/vctt94/gridwager/gridgame"
	"github.com/vctt94/gridwager/ledger"
	"github.com/vctt94/gridwager/negotiator"
)

// Server ties the protocol pieces together behind the HTTP surface.
type Server struct {
	neg     *negotiator.Negotiator
	coord   *escrow.Coordinator
	manager *gridgame.Manager
	referee *gridgame.Referee
	log     slog.Logger

	// gameID -> escrowID, filled at game creation.
	mu      sync.RWMutex
	escrows map[string]string
}

// payoutTrigger adapts the coordinator to the referee's trigger interface.
type payoutTrigger struct {
	coord *escrow.Coordinator
}

func (p payoutTrigger) PayoutWinner(ctx context.Context, gameID, escrowID, winnerAddr string) (string, error) {
	out, err := p.coord.PayoutWinner(ctx, escrowID, winnerAddr)
	if err != nil {
		return "", err
	}
	return out.TxHash, nil
}

func New(neg *negotiator.Negotiator, coord *escrow.Coordinator, log slog.Logger) *Server {
	if log == nil {
		log = slog.Disabled
	}
	manager := gridgame.NewManager(log)
	return &Server{
		neg:     neg,
		coord:   coord,
		manager: manager,
		referee: gridgame.NewReferee(manager, payoutTrigger{coord: coord}, log),
		log:     log,
		escrows: make(map[string]string),
	}
}

// Router builds the gin engine with all routes attached.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.POST("/negotiate", s.handleNegotiate)
	r.POST("/games", s.handleCreateGame)
	r.GET("/games", s.handleListGames)
	r.POST("/games/:id/deposit", s.handleDeposit)
	r.POST("/games/:id/moves", s.handleMove)
	r.GET("/games/:id", s.handleGetGame)
	r.DELETE("/games/:id", s.handleDeleteGame)
	r.GET("/games/:id/sync", s.handleSync)
	r.GET("/escrows/:id", s.handleGetEscrow)
	r.POST("/escrows/:id/refund", s.handleRefund)
	return r
}

// statusFor maps the error taxonomy onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, escrow.ErrRecordNotFound):
		return http.StatusNotFound
	case errors.Is(err, escrow.ErrAlreadyReleased):
		return http.StatusConflict
	case errors.Is(err, ledger.ErrConfirmTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, ledger.ErrTxReverted):
		return http.StatusBadGateway
	case errors.Is(err, escrow.ErrStakeOutOfBounds),
		errors.Is(err, escrow.ErrNotRefundable):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func abortWith(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"error": err.Error()})
}

type partyRequest struct {
	Name           string  `json:"name" binding:"required"`
	Addr           string  `json:"addr" binding:"required"`
	Bankroll       int64   `json:"bankroll" binding:"required"`
	WinProbability float64 `json:"winProbability"`
	Confidence     float64 `json:"confidence"`
	Personality    string  `json:"personality"`
}

func (p partyRequest) toParty() (negotiator.Party, error) {
	pers := negotiator.Personality(p.Personality)
	switch pers {
	case "":
		pers = negotiator.Balanced
	case negotiator.Conservative, negotiator.Balanced, negotiator.Aggressive:
	default:
		return negotiator.Party{}, errors.New("unknown personality " + p.Personality)
	}
	return negotiator.Party{
		Name:           p.Name,
		Addr:           p.Addr,
		Bankroll:       p.Bankroll,
		WinProbability: p.WinProbability,
		Confidence:     p.Confidence,
		Personality:    pers,
	}, nil
}

func (s *Server) handleNegotiate(c *gin.Context) {
	var req struct {
		PartyA partyRequest `json:"partyA" binding:"required"`
		PartyB partyRequest `json:"partyB" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	a, err := req.PartyA.toParty()
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	b, err := req.PartyB.toParty()
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}

	res, err := s.neg.Negotiate(c.Request.Context(), a, b)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) handleCreateGame(c *gin.Context) {
	var req struct {
		Player1 string `json:"player1" binding:"required"`
		Player2 string `json:"player2" binding:"required"`
		Stake   int64  `json:"stake" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}

	rec, err := s.coord.DeployDualChainGame(c.Request.Context(), req.Player1, req.Player2, req.Stake)
	if err != nil {
		abortWith(c, err)
		return
	}
	if err := s.referee.RegisterMatch(rec.GameID, rec.EscrowID, rec.Player1, rec.Player2); err != nil {
		abortWith(c, err)
		return
	}
	s.mu.Lock()
	s.escrows[rec.GameID] = rec.EscrowID
	s.mu.Unlock()

	s.log.Infof("game %s created with escrow %s (stake %d)", rec.GameID, rec.EscrowID, rec.StakeAmount)
	c.JSON(http.StatusCreated, rec)
}

// escrowFor resolves the escrow id bound to a game id.
func (s *Server) escrowFor(gameID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.escrows[gameID]
	return id, ok
}

func (s *Server) handleDeposit(c *gin.Context) {
	gameID := c.Param("id")
	escrowID, ok := s.escrowFor(gameID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown game " + gameID})
		return
	}

	var req struct {
		Player string `json:"player" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}

	out, err := s.coord.DepositStake(c.Request.Context(), escrowID, req.Player)
	if err != nil {
		// A failed mirror write is not a failed deposit: the primary leg
		// confirmed, so report the outcome with the divergence visible.
		var se *escrow.StepError
		if errors.As(err, &se) && se.Step == "mirror_deposit" && out != nil {
			c.JSON(http.StatusOK, gin.H{"deposit": out, "warning": err.Error()})
			return
		}
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleMove(c *gin.Context) {
	gameID := c.Param("id")

	var req struct {
		Player int32  `json:"player" binding:"required"`
		Type   string `json:"type" binding:"required"`
		From   int    `json:"from"`
		To     int    `json:"to"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}

	mv := gridgame.Move{
		Player:    req.Player,
		Type:      gridgame.MoveType(req.Type),
		From:      req.From,
		To:        req.To,
		Timestamp: time.Now(),
	}
	res := s.referee.ProcessMove(c.Request.Context(), gameID, mv)
	if !res.Accepted {
		c.JSON(http.StatusUnprocessableEntity, res)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) handleGetGame(c *gin.Context) {
	id := c.Param("id")
	state, ok := s.manager.Game(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown game " + id})
		return
	}
	c.JSON(http.StatusOK, state)
}

func (s *Server) handleListGames(c *gin.Context) {
	c.JSON(http.StatusOK, s.manager.GamesSnapshot())
}

// handleDeleteGame removes an archived game's state. Concluded games are
// kept for audit until deleted through here.
func (s *Server) handleDeleteGame(c *gin.Context) {
	id := c.Param("id")
	if _, ok := s.manager.Game(id); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown game " + id})
		return
	}
	s.manager.DeleteGame(id)
	s.mu.Lock()
	delete(s.escrows, id)
	s.mu.Unlock()
	c.Status(http.StatusNoContent)
}

func (s *Server) handleSync(c *gin.Context) {
	gameID := c.Param("id")
	escrowID, ok := s.escrowFor(gameID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown game " + gameID})
		return
	}
	report, err := s.coord.CheckSyncStatus(c.Request.Context(), escrowID)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (s *Server) handleGetEscrow(c *gin.Context) {
	rec, err := s.coord.Escrow(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (s *Server) handleRefund(c *gin.Context) {
	rec, err := s.coord.RefundEscrow(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}
