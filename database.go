package main

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/glebarez/sqlite"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

var DB *gorm.DB

var defaultPermissions = []Permission{
	{Codename: "add_event", Name: "Can add event"},
	{Codename: "change_event", Name: "Can change event"},
	{Codename: "delete_event", Name: "Can delete event"},
	{Codename: "view_event", Name: "Can view event"},
	{Codename: "add_category", Name: "Can add category"},
	{Codename: "change_category", Name: "Can change category"},
	{Codename: "delete_category", Name: "Can delete category"},
	{Codename: "view_category", Name: "Can view category"},
	{Codename: "add_user", Name: "Can add user"},
	{Codename: "change_user", Name: "Can change user"},
	{Codename: "delete_user", Name: "Can delete user"},
}

// OpenDB connects to the database selected by DB_DRIVER.
func OpenDB(cfg Config) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.DBDriver {
	case "postgres", "":
		dsn, err := cfg.PostgresDSN()
		if err != nil {
			return nil, err
		}
		dialector = postgres.Open(dsn)
	case "sqlite":
		dialector = sqlite.Open(cfg.SQLitePath)
	default:
		return nil, fmt.Errorf("unsupported DB_DRIVER %q", cfg.DBDriver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", cfg.DBDriver, err)
	}
	return db, nil
}

// Migrate creates the schema and seeds the role groups and permissions.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&Permission{}, &Group{}, &User{}, &Category{}, &Event{}); err != nil {
		return fmt.Errorf("automigrate: %w", err)
	}

	for _, p := range defaultPermissions {
		perm := p
		if err := db.Where(Permission{Codename: perm.Codename}).FirstOrCreate(&perm).Error; err != nil {
			return fmt.Errorf("seed permission %s: %w", perm.Codename, err)
		}
	}

	for _, name := range []string{GroupAdmin, GroupOrganizer, GroupParticipant} {
		g := Group{Name: name}
		if err := db.Where(Group{Name: name}).FirstOrCreate(&g).Error; err != nil {
			return fmt.Errorf("seed group %s: %w", name, err)
		}
	}
	return nil
}

// SeedSuperuser creates the configured superuser once. It is a no-op when the
// SUPERUSER_* variables are not set or the account already exists.
func SeedSuperuser(db *gorm.DB, cfg Config) error {
	if cfg.SuperuserUsername == "" || cfg.SuperuserEmail == "" || cfg.SuperuserPassword == "" {
		return nil
	}

	var count int64
	if err := db.Model(&User{}).Where("username = ?", cfg.SuperuserUsername).Count(&count).Error; err != nil {
		return fmt.Errorf("lookup superuser: %w", err)
	}
	if count > 0 {
		return nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(cfg.SuperuserPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash superuser password: %w", err)
	}

	var admin Group
	if err := db.Where("name = ?", GroupAdmin).First(&admin).Error; err != nil {
		return fmt.Errorf("load admin group: %w", err)
	}

	su := User{
		Username:       cfg.SuperuserUsername,
		Email:          cfg.SuperuserEmail,
		Password:       string(hash),
		IsActive:       true,
		IsSuperuser:    true,
		ProfilePicture: DefaultProfilePicture,
		DateJoined:     time.Now().UTC(),
		Groups:         []Group{admin},
	}
	if err := db.Create(&su).Error; err != nil {
		return fmt.Errorf("create superuser: %w", err)
	}
	slog.Info("superuser created", "username", su.Username)
	return nil
}

// InitDB opens, migrates and seeds the database and stores it in DB.
func InitDB(cfg Config) error {
	db, err := OpenDB(cfg)
	if err != nil {
		return err
	}
	if err := Migrate(db); err != nil {
		return err
	}
	if err := SeedSuperuser(db, cfg); err != nil {
		return err
	}
	DB = db
	slog.Info("database connected and migrated", "driver", cfg.DBDriver)
	return nil
}

func isNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

func findGroupByName(db *gorm.DB, name string) (*Group, error) {
	var g Group
	if err := db.Where("name = ?", name).First(&g).Error; err != nil {
		return nil, fmt.Errorf("find group %s: %w", name, err)
	}
	return &g, nil
}
