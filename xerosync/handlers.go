package xerosync

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/zonglinchua-ui/ampere-business-management-sub006/config"
	"github.com/zonglinchua-ui/ampere-business-management-sub006/models"
	"github.com/zonglinchua-ui/ampere-business-management-sub006/utils"
)

// RegisterRoutes mounts the sync API under the given group. The group is
// expected to already carry the session middleware. The OAuth callback and
// the Pub/Sub push endpoint are mounted separately by the caller because
// they authenticate differently.
func RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/status", StatusHandler())
	rg.GET("/connect", ConnectURLHandler())
	rg.POST("/disconnect", DisconnectHandler())
	rg.POST("/sync", TriggerSyncHandler())
	rg.GET("/dashboard", DashboardHandler())
	rg.GET("/conflicts", ConflictsHandler())
	rg.POST("/conflicts/:id/resolve", ResolveConflictHandler())
	rg.POST("/invoice-requests", InvoiceRequestHandler())
	rg.POST("/logs/purge", PurgeLogsHandler())
}

func StatusHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		businessId, err := resolveBusinessID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		ctx := utils.SetBusinessIdInContext(c.Request.Context(), businessId)

		store := &gormTokenStore{db: config.GetDB()}
		conn, err := store.Get(ctx, businessId)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if conn == nil {
			c.JSON(http.StatusOK, gin.H{
				"status": models.IntegrationStatusDisconnected,
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status":            conn.Status,
			"tenantName":        conn.TenantName,
			"lastSyncAt":        formatTime(conn.LastSyncAt),
			"lastSuccessSyncAt": formatTime(conn.LastSuccessSyncAt),
			"tokenExpiresAt":    conn.ExpiresAt.UTC().Format(time.RFC3339),
		})
	}
}

// ConnectURLHandler returns the provider consent URL. The business id is used
// as the OAuth state so the callback can route the code back to its tenant.
func ConnectURLHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		businessId, err := resolveBusinessID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		manager := NewSessionManager(businessId, &gormTokenStore{db: config.GetDB()})
		url, err := manager.GetAuthorizationURL(businessId)
		if err != nil {
			var cfgErr *ConfigurationError
			if errors.As(err, &cfgErr) {
				c.JSON(http.StatusServiceUnavailable, gin.H{"error": cfgErr.Error()})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"url": url})
	}
}

func CallbackHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		code := strings.TrimSpace(c.Query("code"))
		state := strings.TrimSpace(c.Query("state"))
		if code == "" || state == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "code and state are required"})
			return
		}

		manager := NewSessionManager(state, &gormTokenStore{db: config.GetDB()})
		conn, err := manager.ExchangeCode(c.Request.Context(), code)
		if err != nil {
			var exchangeErr *AuthExchangeError
			if errors.As(err, &exchangeErr) {
				c.JSON(http.StatusBadGateway, gin.H{"error": exchangeErr.Error()})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"success":    true,
			"tenantName": conn.TenantName,
		})
	}
}

func DisconnectHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		businessId, err := resolveBusinessID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		ctx := utils.SetBusinessIdInContext(c.Request.Context(), businessId)

		store := &gormTokenStore{db: config.GetDB()}
		conn, err := store.Get(ctx, businessId)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if conn == nil {
			c.JSON(http.StatusOK, gin.H{"success": true})
			return
		}

		conn.Status = models.IntegrationStatusDisconnected
		conn.AccessToken = ""
		conn.RefreshToken = ""
		if err := store.Save(ctx, conn); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}

func TriggerSyncHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		businessId, err := resolveBusinessID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		var req TriggerSyncRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}

		entities, err := parseEntities(req.Entities)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		userId, _ := utils.GetUserIdFromContext(c.Request.Context())
		svc := NewService(businessId)
		opts := PullOptions{
			ModifiedSince: req.ModifiedSince,
			PageSize:      req.PageSize,
			MaxPages:      req.MaxPages,
			StopOnError:   req.StopOnError,
			TriggeredBy:   models.SyncTriggeredManual,
			UserID:        userId,
		}

		if req.Async {
			logIds := make(map[string]uint, len(entities))
			for _, entity := range entities {
				logId, err := svc.QueueSync(c.Request.Context(), entity, opts)
				if err != nil {
					status, body := syncErrorResponse(err)
					body["logIds"] = logIds
					c.JSON(status, body)
					return
				}
				logIds[string(entity)] = logId
			}
			c.JSON(http.StatusAccepted, gin.H{"queued": true, "logIds": logIds})
			return
		}

		results := make(map[string]*PullResult, len(entities))
		for _, entity := range entities {
			result, err := svc.Pull(c.Request.Context(), entity, opts)
			if err != nil {
				status, body := syncErrorResponse(err)
				body["results"] = results
				c.JSON(status, body)
				return
			}
			results[string(entity)] = result
		}
		svc.InvalidateDashboard()
		c.JSON(http.StatusOK, gin.H{"results": results})
	}
}

func DashboardHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		businessId, err := resolveBusinessID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		var filters DashboardFilters
		if err := c.ShouldBindQuery(&filters); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid filters"})
			return
		}

		svc := NewService(businessId)
		resp, err := svc.Dashboard(c.Request.Context(), filters)
		if err != nil {
			var valErr *ValidationError
			if errors.As(err, &valErr) {
				c.JSON(http.StatusBadRequest, gin.H{"error": valErr.Error()})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, resp)
	}
}

func ConflictsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		businessId, err := resolveBusinessID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		limit := 50
		if v := strings.TrimSpace(c.Query("limit")); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 200 {
				limit = n
			}
		}

		svc := NewService(businessId)
		conflicts, err := svc.PendingConflicts(c.Request.Context(), limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"items": conflicts})
	}
}

func ResolveConflictHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		businessId, err := resolveBusinessID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		id, err := strconv.Atoi(c.Param("id"))
		if err != nil || id <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid conflict id"})
			return
		}

		var req ResolveConflictRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}

		userId, _ := utils.GetUserIdFromContext(c.Request.Context())
		svc := NewService(businessId)
		if err := svc.ResolveConflict(c.Request.Context(), uint(id), req, userId); err != nil {
			switch {
			case errors.Is(err, ErrInvalidResolution):
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			case errors.Is(err, ErrConflictNotFound):
				c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			default:
				var valErr *ValidationError
				if errors.As(err, &valErr) {
					c.JSON(http.StatusBadRequest, gin.H{"error": valErr.Error()})
					return
				}
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			}
			return
		}
		svc.InvalidateDashboard()
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}

func InvoiceRequestHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		businessId, err := resolveBusinessID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		var input InvoiceRequestInput
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "customerName is required"})
			return
		}

		userId, _ := utils.GetUserIdFromContext(c.Request.Context())
		svc := NewService(businessId)
		result, err := svc.RequestInvoice(c.Request.Context(), input, userId)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

func PurgeLogsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		businessId, err := resolveBusinessID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		olderThanDays := 90
		if v := strings.TrimSpace(c.Query("olderThanDays")); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				olderThanDays = n
			}
		}

		svc := NewService(businessId)
		removed, err := svc.PurgeLogs(c.Request.Context(), olderThanDays)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		svc.InvalidateDashboard()
		c.JSON(http.StatusOK, gin.H{"removed": removed})
	}
}

// PubSubPushHandler consumes queued sync runs delivered by the Pub/Sub push
// subscription. Always returns 200 on permanent failures so the message is
// not redelivered forever.
func PubSubPushHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
			return
		}

		var envelope PubSubPushEnvelope
		if err := json.Unmarshal(body, &envelope); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid envelope"})
			return
		}
		var payload SyncPubSubPayload
		if err := json.Unmarshal(envelope.Message.Data, &payload); err != nil {
			c.JSON(http.StatusOK, gin.H{"error": "invalid payload, dropped"})
			return
		}

		if err := HandleQueuedSync(c.Request.Context(), payload); err != nil {
			if errors.Is(err, ErrSyncInProgress) {
				c.JSON(http.StatusOK, gin.H{"skipped": true})
				return
			}
			var valErr *ValidationError
			if errors.As(err, &valErr) {
				c.JSON(http.StatusOK, gin.H{"error": valErr.Error(), "dropped": true})
				return
			}
			// Transient failure: non-2xx makes Pub/Sub redeliver.
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}

func parseEntities(raw []string) ([]EntityType, error) {
	if len(raw) == 0 {
		return []EntityType{EntityContact, EntityInvoice, EntityPayment}, nil
	}
	entities := make([]EntityType, 0, len(raw))
	for _, item := range raw {
		entity, ok := ParseEntityType(strings.ToUpper(strings.TrimSpace(item)))
		if !ok {
			return nil, errors.New("unknown entity type: " + item)
		}
		entities = append(entities, entity)
	}
	return entities, nil
}

func syncErrorResponse(err error) (int, gin.H) {
	switch {
	case errors.Is(err, ErrNotConnected):
		return http.StatusConflict, gin.H{"error": "xero is not connected"}
	case errors.Is(err, ErrSyncInProgress):
		return http.StatusConflict, gin.H{"error": err.Error()}
	}
	var cfgErr *ConfigurationError
	if errors.As(err, &cfgErr) {
		return http.StatusServiceUnavailable, gin.H{"error": cfgErr.Error()}
	}
	var refreshErr *TokenRefreshError
	if errors.As(err, &refreshErr) {
		return http.StatusUnauthorized, gin.H{"error": refreshErr.Error(), "reconnectRequired": true}
	}
	return http.StatusInternalServerError, gin.H{"error": err.Error()}
}

func resolveBusinessID(c *gin.Context) (string, error) {
	username, ok := utils.GetUsernameFromContext(c.Request.Context())
	if !ok || strings.TrimSpace(username) == "" {
		return "", errors.New("unauthorized")
	}

	businessId := strings.TrimSpace(c.Query("business_id"))
	if businessId != "" {
		if err := authorizeBusiness(c.Request.Context(), businessId, username); err != nil {
			return "", err
		}
		return businessId, nil
	}

	user, err := models.GetUserByUsername(c.Request.Context(), username)
	if err != nil {
		return "", errors.New("unauthorized")
	}
	businessId = strings.TrimSpace(user.BusinessId)
	if businessId == "" {
		return "", errors.New("business_id is required")
	}
	return businessId, nil
}

func authorizeBusiness(ctx context.Context, businessId, username string) error {
	user, err := models.GetUserByUsername(ctx, username)
	if err != nil {
		return errors.New("unauthorized")
	}
	if user.Role == models.UserRoleAdmin {
		return nil
	}
	if user.BusinessId != businessId {
		return errors.New("unauthorized")
	}
	return nil
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}
