package main

import (
	"fmt"
	"time"

	"gorm.io/gorm"
)

const (
	FilterToday    = "today"
	FilterUpcoming = "upcoming"
	FilterPast     = "past"
	FilterAll      = "all"
)

// Dashboard is the page context shared by the organizer dashboard.
type Dashboard struct {
	Filter            string  `json:"filter"`
	ListTitle         string  `json:"list_title"`
	TotalEvents       int64   `json:"total_events"`
	UpcomingEvents    int64   `json:"upcoming_events"`
	PastEvents        int64   `json:"past_events"`
	TotalParticipants int64   `json:"total_participants"`
	TodayEvents       []Event `json:"today_events"`
	FilteredEvents    []Event `json:"filtered_events"`
}

func normalizeDashboardFilter(filter string) string {
	switch filter {
	case FilterUpcoming, FilterPast, FilterAll:
		return filter
	default:
		return FilterToday
	}
}

// countRSVPs counts every (event, participant) membership.
func countRSVPs(db *gorm.DB) (int64, error) {
	var n int64
	if err := db.Table("event_participants").Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count rsvps: %w", err)
	}
	return n, nil
}

// BuildDashboard computes the summary counters and the event list selected
// by filter. Unknown filters fall back to today's events.
func BuildDashboard(db *gorm.DB, filter string, day time.Time) (*Dashboard, error) {
	day = dateOnly(day)
	d := &Dashboard{Filter: normalizeDashboardFilter(filter)}

	if err := db.Model(&Event{}).Count(&d.TotalEvents).Error; err != nil {
		return nil, fmt.Errorf("count events: %w", err)
	}
	if err := db.Model(&Event{}).Where("date >= ?", day).Count(&d.UpcomingEvents).Error; err != nil {
		return nil, fmt.Errorf("count upcoming events: %w", err)
	}
	if err := db.Model(&Event{}).Where("date < ?", day).Count(&d.PastEvents).Error; err != nil {
		return nil, fmt.Errorf("count past events: %w", err)
	}
	total, err := countRSVPs(db)
	if err != nil {
		return nil, err
	}
	d.TotalParticipants = total

	withRelations := db.Preload("Category").Preload("Participants").Session(&gorm.Session{})
	if err := withRelations.Where("date = ?", day).Order("id asc").Find(&d.TodayEvents).Error; err != nil {
		return nil, fmt.Errorf("list today's events: %w", err)
	}

	switch d.Filter {
	case FilterUpcoming:
		d.ListTitle = "Upcoming Events"
		err = withRelations.Where("date >= ?", day).Order("date asc").Order("id asc").Find(&d.FilteredEvents).Error
	case FilterPast:
		d.ListTitle = "Past Events"
		err = withRelations.Where("date < ?", day).Order("date desc").Order("id desc").Find(&d.FilteredEvents).Error
	case FilterAll:
		d.ListTitle = "All Events"
		err = withRelations.Order("date desc").Order("id desc").Find(&d.FilteredEvents).Error
	default:
		d.ListTitle = "Today's Events"
		d.FilteredEvents = d.TodayEvents
	}
	if err != nil {
		return nil, fmt.Errorf("list %s events: %w", d.Filter, err)
	}
	return d, nil
}

// AdminSummary is the page context of the admin dashboard.
type AdminSummary struct {
	TotalUsers      int64     `json:"total_users"`
	TotalEvents     int64     `json:"total_events"`
	TotalCategories int64     `json:"total_categories"`
	TotalRSVPs      int64     `json:"total_rsvps"`
	Users           []UserRow `json:"users"`
	Groups          []Group   `json:"groups"`
}

// UserRow is a user as listed on admin pages.
type UserRow struct {
	ID        uint   `json:"id"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	IsActive  bool   `json:"is_active"`
	Role      string `json:"role"`
}

func userRows(users []User) []UserRow {
	rows := make([]UserRow, 0, len(users))
	for i := range users {
		u := &users[i]
		rows = append(rows, UserRow{
			ID:        u.ID,
			Username:  u.Username,
			Email:     u.Email,
			FirstName: u.FirstName,
			LastName:  u.LastName,
			IsActive:  u.IsActive,
			Role:      u.Role(),
		})
	}
	return rows
}

func BuildAdminSummary(db *gorm.DB) (*AdminSummary, error) {
	s := &AdminSummary{}
	if err := db.Model(&User{}).Count(&s.TotalUsers).Error; err != nil {
		return nil, fmt.Errorf("count users: %w", err)
	}
	if err := db.Model(&Event{}).Count(&s.TotalEvents).Error; err != nil {
		return nil, fmt.Errorf("count events: %w", err)
	}
	if err := db.Model(&Category{}).Count(&s.TotalCategories).Error; err != nil {
		return nil, fmt.Errorf("count categories: %w", err)
	}
	rsvps, err := countRSVPs(db)
	if err != nil {
		return nil, err
	}
	s.TotalRSVPs = rsvps

	var users []User
	if err := db.Preload("Groups", func(tx *gorm.DB) *gorm.DB { return tx.Order("id asc") }).Order("id asc").Find(&users).Error; err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	s.Users = userRows(users)

	if err := db.Order("id asc").Find(&s.Groups).Error; err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	return s, nil
}
