package gateway

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/taskhive/taskhive/internal/admin"
	"github.com/taskhive/taskhive/internal/audit"
	"github.com/taskhive/taskhive/internal/auth"
	"github.com/taskhive/taskhive/internal/moderation"
	"github.com/taskhive/taskhive/internal/payments"
	"github.com/taskhive/taskhive/internal/settings"
	"github.com/taskhive/taskhive/internal/submissions"
	"github.com/taskhive/taskhive/internal/users"
	"github.com/taskhive/taskhive/internal/votes"
	"github.com/taskhive/taskhive/pkg/money"
)

func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, users.ErrUserNotFound),
		errors.Is(err, submissions.ErrSubmissionNotFound),
		errors.Is(err, payments.ErrPaymentNotFound),
		errors.Is(err, admin.ErrSuspensionNotFound):
		status = http.StatusNotFound

	case errors.Is(err, auth.ErrUserNotFound),
		errors.Is(err, auth.ErrInvalidPassword),
		errors.Is(err, auth.ErrInvalidToken):
		status = http.StatusUnauthorized

	case errors.Is(err, submissions.ErrNotOwner),
		errors.Is(err, payments.ErrNotOwner),
		errors.Is(err, payments.ErrNotReviewer),
		errors.Is(err, admin.ErrNotAdmin),
		errors.Is(err, admin.ErrNotStaff),
		errors.Is(err, admin.ErrNotSuspended),
		errors.Is(err, moderation.ErrNotModerator),
		errors.Is(err, moderation.ErrModeratorSuspended),
		errors.Is(err, submissions.ErrAccountSuspended),
		errors.Is(err, auth.ErrAccountBanned):
		status = http.StatusForbidden

	case errors.Is(err, votes.ErrAlreadyVoted),
		errors.Is(err, submissions.ErrDuplicateSubmission),
		errors.Is(err, submissions.ErrCampaignInteracted),
		errors.Is(err, submissions.ErrBonusExists),
		errors.Is(err, auth.ErrEmailExists),
		errors.Is(err, payments.ErrPendingExists),
		errors.Is(err, admin.ErrAppealExists):
		status = http.StatusConflict

	case errors.Is(err, moderation.ErrOwnSubmission),
		errors.Is(err, moderation.ErrNotPending),
		errors.Is(err, moderation.ErrInvalidDecision),
		errors.Is(err, submissions.ErrTaskInactive),
		errors.Is(err, submissions.ErrTaskFull),
		errors.Is(err, submissions.ErrBaseNotApproved),
		errors.Is(err, submissions.ErrNotRejected),
		errors.Is(err, payments.ErrInsufficientBalance),
		errors.Is(err, payments.ErrBelowMinimum),
		errors.Is(err, payments.ErrNotPending),
		errors.Is(err, payments.ErrInvalidStatus),
		errors.Is(err, admin.ErrCannotSuspendAdmin),
		errors.Is(err, admin.ErrNoAppeal),
		errors.Is(err, admin.ErrInvalidStatus):
		status = http.StatusBadRequest
	}

	c.JSON(status, gin.H{"error": err.Error()})
}

func pagination(c *gin.Context) (limit, offset int) {
	limit, _ = strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ = strconv.Atoi(c.DefaultQuery("offset", "0"))
	return limit, offset
}

func pathID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return uuid.Nil, false
	}
	return id, true
}

func callerID(c *gin.Context) uuid.UUID {
	return c.MustGet("user_id").(uuid.UUID)
}

// Auth

type registerRequest struct {
	Email    string `json:"email" binding:"required,email"`
	FullName string `json:"full_name" binding:"required"`
	Password string `json:"password" binding:"required,min=8"`
}

func (g *Gateway) register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	u, err := g.auth.Register(c.Request.Context(), req.Email, req.FullName, req.Password)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, u)
}

type loginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

func (g *Gateway) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	token, err := g.auth.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token})
}

func (g *Gateway) getProfile(c *gin.Context) {
	u, err := g.users.Get(c.Request.Context(), callerID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": u, "rejection_rate": u.RejectionRate()})
}

// Settings

func (g *Gateway) getPublicSettings(c *gin.Context) {
	pub, err := g.settings.GetPublic(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, pub)
}

func (g *Gateway) getSettings(c *gin.Context) {
	st, err := g.settings.Get(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (g *Gateway) updateSettings(c *gin.Context) {
	var st settings.Settings
	if err := c.ShouldBindJSON(&st); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	updated, err := g.settings.Update(c.Request.Context(), st, callerID(c))
	if err != nil {
		respondError(c, err)
		return
	}

	g.audit.Record(c.Request.Context(), callerID(c), audit.KindSettingsChanged,
		"Updated platform settings", updated)
	c.JSON(http.StatusOK, updated)
}

// Submissions

func (g *Gateway) createSubmission(c *gin.Context) {
	var req submissions.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	sub, err := g.submissions.Create(c.Request.Context(), callerID(c), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, sub)
}

func (g *Gateway) listMySubmissions(c *gin.Context) {
	limit, offset := pagination(c)
	list, total, err := g.submissions.ListMine(c.Request.Context(), callerID(c), limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"submissions": list, "total": total})
}

func (g *Gateway) getSubmission(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	sub, err := g.submissions.Get(c.Request.Context(), callerID(c), c.GetString("role"), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sub)
}

type bonusRequest struct {
	BonusScreenshotURL string `json:"bonus_screenshot_url" binding:"required"`
}

func (g *Gateway) submitBonus(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req bonusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	sub, err := g.submissions.SubmitBonus(c.Request.Context(), callerID(c), id, req.BonusScreenshotURL)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sub)
}

type appealRequest struct {
	Reason string `json:"reason" binding:"required"`
}

func (g *Gateway) appealSubmission(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req appealRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	staffIDs, err := g.users.ListStaffIDs(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	if err := g.submissions.Appeal(c.Request.Context(), callerID(c), id, req.Reason, staffIDs); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "appeal submitted"})
}

// Moderation

func (g *Gateway) moderationQueue(c *gin.Context) {
	limit, offset := pagination(c)
	list, total, err := g.moderation.Queue(c.Request.Context(), callerID(c), limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"submissions": list, "total": total})
}

type voteRequest struct {
	SubmissionID uuid.UUID `json:"submission_id" binding:"required"`
	Decision     string    `json:"decision" binding:"required"`
	Comment      *string   `json:"comment,omitempty"`
}

func (g *Gateway) castVote(c *gin.Context) {
	var req voteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	result, err := g.moderation.CastVote(c.Request.Context(), callerID(c), req.SubmissionID, req.Decision, req.Comment)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

func (g *Gateway) moderationStats(c *gin.Context) {
	stats, err := g.moderation.Stats(c.Request.Context(), callerID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (g *Gateway) moderationHistory(c *gin.Context) {
	limit, offset := pagination(c)
	list, total, err := g.moderation.History(c.Request.Context(), callerID(c), limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"votes": list, "total": total})
}

func (g *Gateway) submissionVotes(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	list, err := g.moderation.VotesFor(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"votes": list})
}

// Payments

type paymentRequest struct {
	Amount string `json:"amount" binding:"required"`
}

func (g *Gateway) requestPayment(c *gin.Context) {
	var req paymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	amount, err := money.Parse(req.Amount)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amount"})
		return
	}

	p, err := g.payments.Request(c.Request.Context(), callerID(c), amount)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

func (g *Gateway) listPayments(c *gin.Context) {
	limit, offset := pagination(c)
	f := payments.Filter{
		Status:      c.Query("status"),
		FlaggedOnly: c.Query("flagged") == "true",
	}
	list, total, err := g.payments.List(c.Request.Context(), callerID(c), c.GetString("role"), f, limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"payments": list, "total": total})
}

func (g *Gateway) getPayment(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	p, err := g.payments.Get(c.Request.Context(), callerID(c), c.GetString("role"), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (g *Gateway) reviewPayment(c *gin.Context) {
	var req payments.ReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	p, err := g.payments.Review(c.Request.Context(), callerID(c), c.GetString("role"), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (g *Gateway) paymentStats(c *gin.Context) {
	stats, err := g.payments.GetStats(c.Request.Context(), c.GetString("role"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (g *Gateway) exportPayments(c *gin.Context) {
	f := payments.Filter{
		Status:      c.Query("status"),
		FlaggedOnly: c.Query("flagged") == "true",
	}
	csv, err := g.payments.ExportCSV(c.Request.Context(), callerID(c), c.GetString("role"), f)
	if err != nil {
		respondError(c, err)
		return
	}

	filename := "payments-export-" + time.Now().Format("2006-01-02") + ".csv"
	c.Header("Content-Disposition", "attachment; filename="+filename)
	c.Data(http.StatusOK, "text/csv", []byte(csv))
}

// Notifications

func (g *Gateway) listNotifications(c *gin.Context) {
	limit, offset := pagination(c)
	list, err := g.notifications.List(c.Request.Context(), callerID(c), limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"notifications": list})
}

func (g *Gateway) markNotificationRead(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := g.notifications.MarkRead(c.Request.Context(), callerID(c), id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "marked read"})
}

// Admin

func (g *Gateway) setAccountStatus(c *gin.Context) {
	var req admin.StatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	if err := g.admin.SetAccountStatus(c.Request.Context(), callerID(c), c.GetString("role"), req); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "user status updated"})
}

type moderatorAccessRequest struct {
	UserID      uuid.UUID `json:"user_id" binding:"required"`
	CanModerate bool      `json:"can_moderate"`
	Reason      string    `json:"reason"`
}

func (g *Gateway) manageModeratorAccess(c *gin.Context) {
	var req moderatorAccessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	if err := g.admin.ManageModeratorAccess(c.Request.Context(), callerID(c), c.GetString("role"),
		req.UserID, req.CanModerate, req.Reason); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "moderator access updated"})
}

func (g *Gateway) autoUpgradeModerators(c *gin.Context) {
	count, err := g.admin.AutoUpgradeModerators(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"upgraded": count})
}

func (g *Gateway) flaggedUsers(c *gin.Context) {
	flagged, err := g.admin.GetFlaggedUsers(c.Request.Context(), c.GetString("role"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, flagged)
}

func (g *Gateway) suspensionHistory(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	limit, offset := pagination(c)

	list, err := g.admin.SuspensionHistory(c.Request.Context(), c.GetString("role"), id, limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"suspensions": list})
}

func (g *Gateway) userActivity(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	limit, _ := pagination(c)

	entries, err := g.audit.ListByUser(c.Request.Context(), id, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"activity": entries})
}

func (g *Gateway) submitSuspensionAppeal(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req appealRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	if err := g.admin.SubmitAppeal(c.Request.Context(), callerID(c), id, req.Reason); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "appeal submitted"})
}

type reviewAppealRequest struct {
	SuspensionID uuid.UUID `json:"suspension_id" binding:"required"`
	Approved     bool      `json:"approved"`
	ReviewNotes  string    `json:"review_notes"`
}

func (g *Gateway) reviewSuspensionAppeal(c *gin.Context) {
	var req reviewAppealRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	if err := g.admin.ReviewAppeal(c.Request.Context(), callerID(c), c.GetString("role"),
		req.SuspensionID, req.Approved, req.ReviewNotes); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "appeal reviewed"})
}
