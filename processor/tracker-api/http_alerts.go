package trackerapi

import (
	"context"
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/c360studio/aibenefits/auth"
	"github.com/c360studio/aibenefits/storage"
	"github.com/c360studio/aibenefits/tracker"
)

// ReadAllHTTPResponse reports how many alerts were marked read.
type ReadAllHTTPResponse struct {
	Updated int64 `json:"updated"`
}

// AlertsHTTPResponse is an alert page with the global unread count.
type AlertsHTTPResponse struct {
	Alerts []*tracker.Alert `json:"alerts"`
	Unread int              `json:"unread"`
}

func (c *Component) alertFilter(r *http.Request) (storage.AlertFilter, error) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		return storage.AlertFilter{}, err
	}
	return storage.AlertFilter{
		ProjectID:       r.URL.Query().Get("project_id"),
		UnreadOnly:      queryBool(r, "unread"),
		IncludeResolved: queryBool(r, "include_resolved"),
		Limit:           limit,
	}, nil
}

func (c *Component) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	if _, ok := c.authorize(w, r, auth.ActionRead, ""); !ok {
		return
	}
	filter, err := c.alertFilter(r)
	if err != nil {
		c.writeError(w, r, err)
		return
	}
	c.writeAlerts(w, r, filter)
}

func (c *Component) handleListProjectAlerts(w http.ResponseWriter, r *http.Request) {
	p, _, ok := c.projectAccess(w, r, r.PathValue("id"), auth.ActionRead)
	if !ok {
		return
	}
	filter, err := c.alertFilter(r)
	if err != nil {
		c.writeError(w, r, err)
		return
	}
	filter.ProjectID = p.ID
	c.writeAlerts(w, r, filter)
}

func (c *Component) writeAlerts(w http.ResponseWriter, r *http.Request, filter storage.AlertFilter) {
	alerts, err := c.store.ListAlerts(r.Context(), filter)
	if err != nil {
		c.writeError(w, r, err)
		return
	}
	unread, err := c.store.CountUnreadAlerts(r.Context())
	if err != nil {
		c.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, AlertsHTTPResponse{Alerts: alerts, Unread: unread})
}

// handleReadAllAlerts marks every unread alert read, optionally limited to
// one project via ?project_id.
func (c *Component) handleReadAllAlerts(w http.ResponseWriter, r *http.Request) {
	if _, ok := c.authorize(w, r, auth.ActionUpdate, ""); !ok {
		return
	}
	n, err := c.store.MarkAllAlertsRead(r.Context(), r.URL.Query().Get("project_id"))
	if err != nil {
		c.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ReadAllHTTPResponse{Updated: n})
}

func (c *Component) handleReadAlert(w http.ResponseWriter, r *http.Request) {
	c.updateAlert(w, r, c.store.MarkAlertRead)
}

func (c *Component) handleResolveAlert(w http.ResponseWriter, r *http.Request) {
	c.updateAlert(w, r, c.store.ResolveAlert)
}

func (c *Component) updateAlert(w http.ResponseWriter, r *http.Request, update func(ctx context.Context, id string) error) {
	if _, ok := c.authorize(w, r, auth.ActionUpdate, ""); !ok {
		return
	}
	id := r.PathValue("id")
	if err := update(r.Context(), id); err != nil {
		c.writeError(w, r, err)
		return
	}
	alert, err := c.store.GetAlert(r.Context(), id)
	if err != nil {
		c.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, alert)
}

// ----------------------------------------------------------------------------
// Prompt library
// ----------------------------------------------------------------------------

// PromptHTTPRequest is the body for creating or updating a library prompt.
type PromptHTTPRequest struct {
	Title    *string   `json:"title,omitempty"`
	Content  *string   `json:"content,omitempty"`
	Category *string   `json:"category,omitempty"`
	Tags     *[]string `json:"tags,omitempty"`
}

func (req PromptHTTPRequest) apply(p *tracker.Prompt) {
	if req.Title != nil {
		p.Title = strings.TrimSpace(*req.Title)
	}
	if req.Content != nil {
		p.Content = *req.Content
	}
	if req.Category != nil {
		p.Category = strings.TrimSpace(*req.Category)
	}
	if req.Tags != nil {
		tags := make([]string, 0, len(*req.Tags))
		for _, t := range *req.Tags {
			if t = strings.TrimSpace(t); t != "" {
				tags = append(tags, t)
			}
		}
		p.Tags = tags
	}
}

func (c *Component) handleListPrompts(w http.ResponseWriter, r *http.Request) {
	if _, ok := c.authorize(w, r, auth.ActionRead, ""); !ok {
		return
	}
	q := r.URL.Query()
	prompts, err := c.store.ListPrompts(r.Context(), storage.PromptFilter{
		Category: q.Get("category"),
		Search:   strings.TrimSpace(q.Get("q")),
	})
	if err != nil {
		c.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, prompts)
}

func (c *Component) handleCreatePrompt(w http.ResponseWriter, r *http.Request) {
	user, ok := c.authorize(w, r, auth.ActionCreate, "")
	if !ok {
		return
	}
	var req PromptHTTPRequest
	if err := c.decode(w, r, &req); err != nil {
		c.writeError(w, r, err)
		return
	}
	p := tracker.Prompt{AuthorID: user.ID}
	req.apply(&p)
	if err := c.store.CreatePrompt(r.Context(), &p); err != nil {
		c.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, &p)
}

func (c *Component) handleGetPrompt(w http.ResponseWriter, r *http.Request) {
	if _, ok := c.authorize(w, r, auth.ActionRead, ""); !ok {
		return
	}
	p, err := c.store.GetPrompt(r.Context(), r.PathValue("id"))
	if err != nil {
		c.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (c *Component) handleUpdatePrompt(w http.ResponseWriter, r *http.Request) {
	if _, ok := c.authorize(w, r, auth.ActionUpdate, ""); !ok {
		return
	}
	p, err := c.store.GetPrompt(r.Context(), r.PathValue("id"))
	if err != nil {
		c.writeError(w, r, err)
		return
	}
	var req PromptHTTPRequest
	if err := c.decode(w, r, &req); err != nil {
		c.writeError(w, r, err)
		return
	}
	req.apply(p)
	if err := c.store.UpdatePrompt(r.Context(), p); err != nil {
		c.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (c *Component) handleDeletePrompt(w http.ResponseWriter, r *http.Request) {
	if _, ok := c.currentUser(w, r); !ok {
		return
	}
	p, err := c.store.GetPrompt(r.Context(), r.PathValue("id"))
	if err != nil {
		c.writeError(w, r, err)
		return
	}
	if _, ok := c.authorize(w, r, auth.ActionDelete, p.AuthorID); !ok {
		return
	}
	if err := c.store.DeletePrompt(r.Context(), p.ID); err != nil {
		c.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleUsePrompt counts a copy of the prompt. Guests may use the library
// too, so only read access is required.
func (c *Component) handleUsePrompt(w http.ResponseWriter, r *http.Request) {
	if _, ok := c.authorize(w, r, auth.ActionRead, ""); !ok {
		return
	}
	id := r.PathValue("id")
	if err := c.store.IncrementPromptUsage(r.Context(), id); err != nil {
		c.writeError(w, r, err)
		return
	}
	p, err := c.store.GetPrompt(r.Context(), id)
	if err != nil {
		c.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// ----------------------------------------------------------------------------
// Attachments
// ----------------------------------------------------------------------------

// multipartOverhead allows for part headers and boundaries around the file.
const multipartOverhead = 64 << 10

func (c *Component) uploadsEnabled(w http.ResponseWriter) bool {
	if c.uploads == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: "uploads are disabled"})
		return false
	}
	return true
}

func (c *Component) handleListAttachments(w http.ResponseWriter, r *http.Request) {
	p, _, ok := c.projectAccess(w, r, r.PathValue("id"), auth.ActionRead)
	if !ok {
		return
	}
	atts, err := c.store.ListAttachments(r.Context(), p.ID)
	if err != nil {
		c.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, atts)
}

// handleUploadAttachment streams the multipart "file" field to disk without
// buffering the whole body in memory.
func (c *Component) handleUploadAttachment(w http.ResponseWriter, r *http.Request) {
	p, user, ok := c.projectAccess(w, r, r.PathValue("id"), auth.ActionCreate)
	if !ok {
		return
	}
	if !c.uploadsEnabled(w) {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, c.uploads.MaxBytes()+multipartOverhead)
	mr, err := r.MultipartReader()
	if err != nil {
		c.writeError(w, r, badRequest("expected multipart/form-data: %v", err))
		return
	}
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			c.writeError(w, r, badRequest("missing file field"))
			return
		}
		if err != nil {
			c.writeError(w, r, badRequest("read multipart body: %v", err))
			return
		}
		if part.FormName() != "file" {
			part.Close()
			continue
		}

		saved, err := c.uploads.Save(part.FileName(), part)
		part.Close()
		if err != nil {
			c.writeError(w, r, err)
			return
		}
		att := tracker.Attachment{
			ProjectID:   p.ID,
			FileName:    saved.FileName,
			StoredName:  saved.StoredName,
			ContentType: saved.ContentType,
			Size:        saved.Size,
			UploadedBy:  user.ID,
		}
		if err := c.store.CreateAttachment(r.Context(), &att); err != nil {
			if rmErr := c.uploads.Remove(saved.StoredName); rmErr != nil {
				c.logger.Warn("Failed to remove orphaned upload", "file", saved.StoredName, "error", rmErr)
			}
			c.writeError(w, r, err)
			return
		}
		c.logger.Info("Attachment uploaded",
			"project_id", p.ID,
			"attachment_id", att.ID,
			"size", att.Size)
		writeJSON(w, http.StatusCreated, &att)
		return
	}
}

func (c *Component) handleDownloadAttachment(w http.ResponseWriter, r *http.Request) {
	if _, ok := c.currentUser(w, r); !ok {
		return
	}
	if !c.uploadsEnabled(w) {
		return
	}
	att, err := c.store.GetAttachment(r.Context(), r.PathValue("id"))
	if err != nil {
		c.writeError(w, r, err)
		return
	}
	if _, _, ok := c.projectAccess(w, r, att.ProjectID, auth.ActionRead); !ok {
		return
	}

	f, err := c.uploads.Open(att.StoredName)
	if err != nil {
		c.writeError(w, r, err)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", att.ContentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": att.FileName}))
	w.Header().Set("X-Content-Type-Options", "nosniff")
	http.ServeContent(w, r, att.FileName, att.CreatedAt, f)
}

func (c *Component) handleDeleteAttachment(w http.ResponseWriter, r *http.Request) {
	if _, ok := c.currentUser(w, r); !ok {
		return
	}
	att, err := c.store.GetAttachment(r.Context(), r.PathValue("id"))
	if err != nil {
		c.writeError(w, r, err)
		return
	}
	if _, ok := c.authorize(w, r, auth.ActionDelete, att.UploadedBy); !ok {
		return
	}
	if err := c.store.DeleteAttachment(r.Context(), att.ID); err != nil {
		c.writeError(w, r, err)
		return
	}
	if c.uploads != nil {
		if err := c.uploads.Remove(att.StoredName); err != nil {
			c.logger.Warn("Failed to remove attachment file", "attachment_id", att.ID, "error", err)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}
