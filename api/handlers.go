package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/presbrey/ircstate/core"
)

// RegisterRequest creates a new identity
type RegisterRequest struct {
	Nick     string `json:"nick" validate:"required"`
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required,min=8"`
}

// ChannelRequest addresses one (channel, nick) pair
type ChannelRequest struct {
	Nick    string `json:"nick" validate:"required"`
	Channel string `json:"channel" validate:"required"`
}

// MessageRequest posts a message or notice to a channel
type MessageRequest struct {
	Nick    string `json:"nick" validate:"required"`
	Channel string `json:"channel" validate:"required"`
	Message string `json:"message" validate:"required"`
	Notice  bool   `json:"notice"`
}

// DirectRequest sends a private message
type DirectRequest struct {
	Nick    string `json:"nick" validate:"required"`
	Target  string `json:"target" validate:"required"`
	Message string `json:"message" validate:"required"`
}

// LevelRequest grants or revokes a permission level
type LevelRequest struct {
	Nick    string `json:"nick" validate:"required"`
	Channel string `json:"channel" validate:"required"`
	Target  string `json:"target" validate:"required"`
	Level   string `json:"level" validate:"required"`
}

// BanRequest records a ban; an empty channel scopes it server-wide
type BanRequest struct {
	Nick       string `json:"nick" validate:"required"`
	Mask       string `json:"mask" validate:"required"`
	Channel    string `json:"channel,omitempty"`
	Reason     string `json:"reason,omitempty"`
	ExpiresSec int64  `json:"expires_sec,omitempty" validate:"gte=0"`
}

// BanRevokeRequest soft-revokes a ban by id
type BanRevokeRequest struct {
	Nick  string `json:"nick" validate:"required"`
	BanID uint   `json:"ban_id" validate:"required"`
}

// AckRequest confirms delivery of channel events or direct messages
type AckRequest struct {
	Nick    string `json:"nick" validate:"required"`
	Channel string `json:"channel,omitempty"`
	UpTo    int64  `json:"up_to" validate:"required,gt=0"`
}

// ReconnectRequest asks for everything a nick missed
type ReconnectRequest struct {
	Nick string `json:"nick" validate:"required"`
}

func (a *API) resolve(nick string) (*core.Identity, error) {
	identity, err := a.core.Identities.ResolveAlias(nick)
	if err != nil {
		return nil, httpError(err)
	}
	return identity, nil
}

func (a *API) bindAuthed(c echo.Context, req interface{}) error {
	if !a.authenticateRequest(c.Request()) {
		return echo.NewHTTPError(http.StatusUnauthorized, "Unauthorized")
	}
	if err := c.Bind(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Bad request")
	}
	return c.Validate(req)
}

// handleRegister handles creating a new identity
func (a *API) handleRegister(c echo.Context) error {
	var req RegisterRequest
	if err := a.bindAuthed(c, &req); err != nil {
		return err
	}

	identity, err := a.core.Identities.Register(req.Nick, req.Username, req.Password)
	if err != nil {
		return httpError(err)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"success":  true,
		"identity": identity.ID,
		"nick":     identity.Nick,
	})
}

// handleJoin handles joining a channel
func (a *API) handleJoin(c echo.Context) error {
	var req ChannelRequest
	if err := a.bindAuthed(c, &req); err != nil {
		return err
	}

	identity, err := a.resolve(req.Nick)
	if err != nil {
		return err
	}

	channel, err := a.core.Join(req.Channel, identity.ID)
	if err != nil {
		return httpError(err)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"channel": channel.Name,
	})
}

// handlePart handles leaving a channel
func (a *API) handlePart(c echo.Context) error {
	var req ChannelRequest
	if err := a.bindAuthed(c, &req); err != nil {
		return err
	}

	identity, err := a.resolve(req.Nick)
	if err != nil {
		return err
	}

	if err := a.core.Part(req.Channel, identity.ID); err != nil {
		return httpError(err)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
	})
}

// handleMessage handles posting a message or notice to a channel
func (a *API) handleMessage(c echo.Context) error {
	var req MessageRequest
	if err := a.bindAuthed(c, &req); err != nil {
		return err
	}

	identity, err := a.resolve(req.Nick)
	if err != nil {
		return err
	}

	var index int64
	if req.Notice {
		index, err = a.core.PostNotice(req.Channel, identity.ID, req.Message)
	} else {
		index, err = a.core.PostMessage(req.Channel, identity.ID, req.Message)
	}
	if err != nil {
		return httpError(err)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"index":   index,
	})
}

// handleDirect handles sending a private message
func (a *API) handleDirect(c echo.Context) error {
	var req DirectRequest
	if err := a.bindAuthed(c, &req); err != nil {
		return err
	}

	sender, err := a.resolve(req.Nick)
	if err != nil {
		return err
	}
	target, err := a.resolve(req.Target)
	if err != nil {
		return err
	}

	key, err := a.core.SendDirectMessage(sender.ID, target.ID, req.Message)
	if err != nil {
		return httpError(err)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"key":     key,
	})
}

func (a *API) handleLevelChange(c echo.Context, grant bool) error {
	var req LevelRequest
	if err := a.bindAuthed(c, &req); err != nil {
		return err
	}

	level, err := core.ParseLevel(req.Level)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	actor, err := a.resolve(req.Nick)
	if err != nil {
		return err
	}
	target, err := a.resolve(req.Target)
	if err != nil {
		return err
	}

	var index int64
	if grant {
		index, err = a.core.GrantPermission(req.Channel, actor.ID, target.ID, level)
	} else {
		index, err = a.core.RevokePermission(req.Channel, actor.ID, target.ID, level)
	}
	if err != nil {
		return httpError(err)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"index":   index,
	})
}

// handleGrant handles raising a member's permission level
func (a *API) handleGrant(c echo.Context) error {
	return a.handleLevelChange(c, true)
}

// handleRevoke handles lowering a member's permission level
func (a *API) handleRevoke(c echo.Context) error {
	return a.handleLevelChange(c, false)
}

// handleBan handles recording a ban
func (a *API) handleBan(c echo.Context) error {
	var req BanRequest
	if err := a.bindAuthed(c, &req); err != nil {
		return err
	}

	requester, err := a.resolve(req.Nick)
	if err != nil {
		return err
	}

	var expires *time.Time
	if req.ExpiresSec > 0 {
		t := time.Now().Add(time.Duration(req.ExpiresSec) * time.Second)
		expires = &t
	}

	banID, err := a.core.AddBan(req.Mask, requester.ID, req.Reason, req.Channel, expires)
	if err != nil {
		return httpError(err)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"ban_id":  banID,
	})
}

// handleBanRevoke handles revoking a ban
func (a *API) handleBanRevoke(c echo.Context) error {
	var req BanRevokeRequest
	if err := a.bindAuthed(c, &req); err != nil {
		return err
	}

	actor, err := a.resolve(req.Nick)
	if err != nil {
		return err
	}

	if err := a.core.RevokeBan(req.BanID, actor.ID); err != nil {
		return httpError(err)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
	})
}

// handleReconnect handles building a delivery plan for a reconnecting nick
func (a *API) handleReconnect(c echo.Context) error {
	var req ReconnectRequest
	if err := a.bindAuthed(c, &req); err != nil {
		return err
	}

	identity, err := a.resolve(req.Nick)
	if err != nil {
		return err
	}

	plan, err := a.core.OnReconnect(identity.ID)
	if err != nil {
		return httpError(err)
	}

	return c.JSON(http.StatusOK, plan)
}

// handleAck handles acknowledging delivered events. With a channel it
// advances that channel's cursor; without one it advances the
// direct-message cursor.
func (a *API) handleAck(c echo.Context) error {
	var req AckRequest
	if err := a.bindAuthed(c, &req); err != nil {
		return err
	}

	identity, err := a.resolve(req.Nick)
	if err != nil {
		return err
	}

	if req.Channel != "" {
		err = a.core.Acknowledge(identity.ID, req.Channel, req.UpTo)
	} else {
		err = a.core.AcknowledgeDirect(identity.ID, req.UpTo)
	}
	if err != nil {
		return httpError(err)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
	})
}

// handleBanList handles the ban audit view
func (a *API) handleBanList(c echo.Context) error {
	if !a.authenticateRequest(c.Request()) {
		return echo.NewHTTPError(http.StatusUnauthorized, "Unauthorized")
	}

	var channelID *uint
	if name := c.QueryParam("channel"); name != "" {
		channel, err := a.core.Channels.GetByName(name)
		if err != nil {
			return httpError(err)
		}
		channelID = &channel.ID
	}

	bans, err := a.core.Bans.List(channelID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, bans)
}

// handleEvents handles reading a channel's event log from an index
func (a *API) handleEvents(c echo.Context) error {
	if !a.authenticateRequest(c.Request()) {
		return echo.NewHTTPError(http.StatusUnauthorized, "Unauthorized")
	}

	name := c.QueryParam("channel")
	if name == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "Channel is required")
	}
	channel, err := a.core.Channels.GetByName(name)
	if err != nil {
		return httpError(err)
	}

	after := int64(0)
	if s := c.QueryParam("after"); s != "" {
		after, err = strconv.ParseInt(s, 10, 64)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "Bad after index")
		}
	}
	limit := 0
	if s := c.QueryParam("limit"); s != "" {
		limit, err = strconv.Atoi(s)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "Bad limit")
		}
	}

	events, err := a.core.Events.FetchSince(channel.ID, after, limit)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, events)
}
