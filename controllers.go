package main

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm/clause"
)

// -----------------------------
// Helper functions
// -----------------------------

func jsonError(c *gin.Context, code int, msg string) {
	c.JSON(code, gin.H{"error": msg})
}

// serverError logs err and answers with a generic 500.
func serverError(c *gin.Context, msg string, err error) {
	slog.Error(msg, "error", err, "path", c.Request.URL.Path)
	jsonError(c, http.StatusInternalServerError, "internal server error")
}

// idParam parses a positive numeric path parameter.
func idParam(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		jsonError(c, http.StatusNotFound, "not found")
		return 0, false
	}
	return uint(id), true
}

// formInvalid re-renders a form page with the submitted values and errors.
func formInvalid(c *gin.Context, form any, errs ...string) {
	c.JSON(http.StatusBadRequest, gin.H{
		"form":     form,
		"messages": pageMessages(c, FlashError, errs...),
	})
}

func bindingErrors(err error) []string {
	return []string{"Invalid form: " + err.Error()}
}

// parseFormDate accepts the HTML date input format or RFC3339.
func parseFormDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return dateOnly(t), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q (use YYYY-MM-DD)", s)
	}
	return dateOnly(t), nil
}

// -----------------------------
// Listing pages
// -----------------------------

func listingPage(c *gin.Context) {
	var f EventFilter
	_ = c.ShouldBindQuery(&f)

	listing, err := BuildEventListing(DB.WithContext(c.Request.Context()), f, today())
	if err != nil {
		serverError(c, "failed to build event listing", err)
		return
	}
	listing.Messages = pageMessages(c, FlashError, listing.Errors...)
	c.JSON(http.StatusOK, listing)
}

// Home is the public landing page.
func Home(c *gin.Context) {
	listingPage(c)
}

func EventList(c *gin.Context) {
	listingPage(c)
}

func NoPermission(c *gin.Context) {
	c.JSON(http.StatusForbidden, gin.H{
		"error":    "You do not have permission to view this page.",
		"messages": pageMessages(c, FlashError),
	})
}

// DashboardRedirect sends the user to the dashboard that matches their role.
func DashboardRedirect(c *gin.Context) {
	c.Redirect(http.StatusFound, DashboardPath(currentPrincipal(c)))
}

// -----------------------------
// Events
// -----------------------------

type EventForm struct {
	Name           string `form:"name" json:"name" binding:"required"`
	Date           string `form:"date" json:"date" binding:"required"`
	Location       string `form:"location" json:"location"`
	Description    string `form:"description" json:"description"`
	CategoryID     uint   `form:"category_id" json:"category_id" binding:"required"`
	ParticipantIDs []uint `form:"participant_ids" json:"participant_ids"`
}

// apply validates the form and copies it onto ev.
func (f *EventForm) apply(ev *Event) []string {
	var errs []string
	date, err := parseFormDate(f.Date)
	if err != nil {
		errs = append(errs, err.Error())
	}
	if _, err := getCategory(DB, f.CategoryID); err != nil {
		errs = append(errs, "Select a valid category.")
	}
	if len(errs) > 0 {
		return errs
	}
	ev.Name = strings.TrimSpace(f.Name)
	ev.Date = date
	ev.Location = strings.TrimSpace(f.Location)
	ev.Description = f.Description
	ev.CategoryID = f.CategoryID
	return nil
}

func eventFormContext(c *gin.Context, ev *Event) (gin.H, error) {
	var categories []Category
	if err := DB.Order("name asc").Find(&categories).Error; err != nil {
		return nil, err
	}
	var users []User
	if err := DB.Order("username asc").Find(&users).Error; err != nil {
		return nil, err
	}
	return gin.H{
		"event":      ev,
		"categories": categories,
		"users":      userRows(users),
		"messages":   pageMessages(c, FlashError),
	}, nil
}

func EventDetails(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	ev, err := getEvent(DB, id)
	if err != nil {
		if isNotFound(err) {
			jsonError(c, http.StatusNotFound, "event not found")
			return
		}
		serverError(c, "failed to load event", err)
		return
	}

	rsvped := false
	if p := currentPrincipal(c); p != nil {
		for _, u := range ev.Participants {
			if u.ID == p.UserID {
				rsvped = true
				break
			}
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"event":      ev,
		"has_rsvped": rsvped,
		"messages":   pageMessages(c, FlashInfo),
	})
}

func EventCreateForm(c *gin.Context) {
	ctx, err := eventFormContext(c, &Event{Image: DefaultEventImage})
	if err != nil {
		serverError(c, "failed to build event form", err)
		return
	}
	c.JSON(http.StatusOK, ctx)
}

func CreateEvent(c *gin.Context) {
	var form EventForm
	if err := c.ShouldBind(&form); err != nil {
		formInvalid(c, form, bindingErrors(err)...)
		return
	}

	ev := Event{Image: DefaultEventImage}
	if errs := form.apply(&ev); errs != nil {
		formInvalid(c, form, errs...)
		return
	}

	image, stored, err := saveUpload(c, "image", "event_images")
	if err != nil {
		if errors.Is(err, errUnsupportedImage) {
			formInvalid(c, form, "Upload a valid image.")
			return
		}
		serverError(c, "failed to store event image", err)
		return
	}
	if stored {
		ev.Image = image
	}

	if err := DB.Create(&ev).Error; err != nil {
		if stored {
			removeMedia(image)
		}
		serverError(c, "could not create event", err)
		return
	}

	if len(form.ParticipantIDs) > 0 {
		added, err := SetParticipants(DB, &ev, form.ParticipantIDs)
		if err != nil {
			serverError(c, "could not set participants", err)
			return
		}
		Notify.ParticipantsAdded(c.Request.Context(), &ev, added)
	}

	slog.Info("event created", "event_id", ev.ID, "by", currentPrincipal(c).UserID)
	redirectWithFlash(c, FlashSuccess, "Event created successfully!", "/event_list/")
}

func EventUpdateForm(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	ev, err := getEvent(DB, id)
	if err != nil {
		if isNotFound(err) {
			jsonError(c, http.StatusNotFound, "event not found")
			return
		}
		serverError(c, "failed to load event", err)
		return
	}
	ctx, err := eventFormContext(c, ev)
	if err != nil {
		serverError(c, "failed to build event form", err)
		return
	}
	c.JSON(http.StatusOK, ctx)
}

func UpdateEvent(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	ev, err := getEvent(DB, id)
	if err != nil {
		if isNotFound(err) {
			jsonError(c, http.StatusNotFound, "event not found")
			return
		}
		serverError(c, "failed to load event", err)
		return
	}

	var form EventForm
	if err := c.ShouldBind(&form); err != nil {
		formInvalid(c, form, bindingErrors(err)...)
		return
	}
	if errs := form.apply(ev); errs != nil {
		formInvalid(c, form, errs...)
		return
	}

	image, stored, err := saveUpload(c, "image", "event_images")
	if err != nil {
		if errors.Is(err, errUnsupportedImage) {
			formInvalid(c, form, "Upload a valid image.")
			return
		}
		serverError(c, "failed to store event image", err)
		return
	}
	oldImage := ev.Image
	if stored {
		ev.Image = image
	}

	ev.Category = nil
	if err := DB.Omit(clause.Associations).Save(ev).Error; err != nil {
		if stored {
			removeMedia(image)
		}
		serverError(c, "could not update event", err)
		return
	}
	if stored && oldImage != image {
		removeMedia(oldImage)
	}

	if len(form.ParticipantIDs) > 0 {
		added, err := SetParticipants(DB, ev, form.ParticipantIDs)
		if err != nil {
			serverError(c, "could not set participants", err)
			return
		}
		Notify.ParticipantsAdded(c.Request.Context(), ev, added)
	}

	redirectWithFlash(c, FlashSuccess, "Event updated successfully!", "/event_list/")
}

// EventDeleteGet mirrors a delete link followed without a form post.
func EventDeleteGet(c *gin.Context) {
	redirectWithFlash(c, FlashError, "Something went wrong", "/event_list/")
}

func DeleteEvent(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	ev, err := getEvent(DB, id)
	if err != nil {
		if isNotFound(err) {
			jsonError(c, http.StatusNotFound, "event not found")
			return
		}
		serverError(c, "failed to load event", err)
		return
	}

	if err := deleteEvent(DB, ev); err != nil {
		serverError(c, "delete failed", err)
		return
	}
	removeMedia(ev.Image)

	redirectWithFlash(c, FlashSuccess, "Event deleted successfully", "/event_list/")
}

// -----------------------------
// RSVP
// -----------------------------

func RSVPEvent(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	detailsURL := fmt.Sprintf("/event_details/%d/", id)

	ev, err := getEvent(DB, id)
	if err != nil {
		if isNotFound(err) {
			jsonError(c, http.StatusNotFound, "event not found")
			return
		}
		serverError(c, "failed to load event", err)
		return
	}

	user, err := getUser(DB, currentPrincipal(c).UserID)
	if err != nil {
		serverError(c, "failed to load user", err)
		return
	}

	if err := AddParticipant(DB, ev, user); err != nil {
		if errors.Is(err, ErrAlreadyRSVPed) {
			rsvpsTotal.WithLabelValues("duplicate").Inc()
			redirectWithFlash(c, FlashInfo, "You have already RSVPed to this event.", detailsURL)
			return
		}
		serverError(c, "could not rsvp", err)
		return
	}
	rsvpsTotal.WithLabelValues("added").Inc()

	Notify.ParticipantsAdded(c.Request.Context(), ev, []User{*user})
	redirectWithFlash(c, FlashSuccess, "You have successfully RSVPed to "+ev.Name+"!", detailsURL)
}
