package main

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"unicode"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
)

const passwordSpecialChars = "@#$%^&+="

func hashPassword(plain string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

func checkPassword(hash, plain string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}

// validatePassword returns every rule the password breaks.
func validatePassword(pw string) []string {
	var errs []string
	if len(pw) < 8 {
		errs = append(errs, "password must be at least 8 characters")
	}
	var upper, lower, digit, special bool
	for _, r := range pw {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case strings.ContainsRune(passwordSpecialChars, r):
			special = true
		}
	}
	if !upper {
		errs = append(errs, "Must include an uppercase letter")
	}
	if !lower {
		errs = append(errs, "Must include a lowercase letter")
	}
	if !digit {
		errs = append(errs, "Must include a number")
	}
	if !special {
		errs = append(errs, "Must include a special character")
	}
	return errs
}

// newPasswordErrors checks a password and its confirmation.
func newPasswordErrors(pw, confirm string) []string {
	errs := validatePassword(pw)
	if pw != confirm {
		errs = append(errs, "Passwords do not match")
	}
	return errs
}

// safeNext keeps post-login redirects on this site.
func safeNext(next string) string {
	if next == "" || !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") {
		return "/"
	}
	return next
}

// ========================
// SIGN UP
// ========================

type SignUpForm struct {
	Username        string `form:"username" json:"username" binding:"required,max=150"`
	FirstName       string `form:"first_name" json:"first_name"`
	LastName        string `form:"last_name" json:"last_name"`
	Email           string `form:"email" json:"email" binding:"required,email"`
	Password        string `form:"password1" json:"password1" binding:"required"`
	ConfirmPassword string `form:"password2" json:"password2" binding:"required"`
}

// echo drops the secrets before the form goes back to the client.
func (f SignUpForm) echo() SignUpForm {
	f.Password, f.ConfirmPassword = "", ""
	return f
}

func SignUpPage(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"form":     SignUpForm{},
		"messages": pageMessages(c, FlashError),
	})
}

func SignUp(c *gin.Context) {
	var form SignUpForm
	if err := c.ShouldBind(&form); err != nil {
		formInvalid(c, form.echo(), bindingErrors(err)...)
		return
	}
	form.Username = strings.TrimSpace(form.Username)
	form.Email = strings.TrimSpace(form.Email)

	errs, err := signUpErrors(form)
	if err != nil {
		serverError(c, "failed to validate sign up", err)
		return
	}
	if len(errs) > 0 {
		formInvalid(c, form.echo(), errs...)
		return
	}

	hashed, err := hashPassword(form.Password)
	if err != nil {
		serverError(c, "failed to hash password", err)
		return
	}

	user := User{
		Username:       form.Username,
		FirstName:      form.FirstName,
		LastName:       form.LastName,
		Email:          form.Email,
		Password:       hashed,
		ProfilePicture: DefaultProfilePicture,
		IsActive:       false,
		DateJoined:     timeNow(),
	}
	if err := createUserInGroup(DB, &user, GroupParticipant); err != nil {
		serverError(c, "could not create user", err)
		return
	}
	accountsTotal.WithLabelValues("signup").Inc()
	slog.Info("user signed up", "user_id", user.ID)

	Notify.UserCreated(c.Request.Context(), &user)
	redirectWithFlash(c, FlashSuccess, "Registration successful. Please check your email to activate your account.", pathSignIn)
}

func signUpErrors(form SignUpForm) ([]string, error) {
	var errs []string
	taken, err := usernameTaken(DB, form.Username)
	if err != nil {
		return nil, err
	}
	if taken {
		errs = append(errs, "A user with that username already exists.")
	}
	taken, err = emailTaken(DB, form.Email, 0)
	if err != nil {
		return nil, err
	}
	if taken {
		errs = append(errs, "Email already exists")
	}
	return append(errs, newPasswordErrors(form.Password, form.ConfirmPassword)...), nil
}

// ========================
// SIGN IN / OUT
// ========================

type SignInForm struct {
	Username string `form:"username" json:"username" binding:"required"`
	Password string `form:"password" json:"password" binding:"required"`
	Next     string `form:"next" json:"next"`
}

func SignInPage(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"form":     SignInForm{Next: c.Query("next")},
		"messages": pageMessages(c, FlashError),
	})
}

func SignIn(c *gin.Context) {
	var form SignInForm
	if err := c.ShouldBind(&form); err != nil {
		formInvalid(c, SignInForm{Username: form.Username, Next: form.Next}, bindingErrors(err)...)
		return
	}
	echo := SignInForm{Username: form.Username, Next: form.Next}

	var user User
	if err := DB.Where("username = ?", strings.TrimSpace(form.Username)).First(&user).Error; err != nil {
		if isNotFound(err) {
			formInvalid(c, echo, "Please enter a correct username and password.")
			return
		}
		serverError(c, "failed to load user", err)
		return
	}
	if !checkPassword(user.Password, form.Password) {
		formInvalid(c, echo, "Please enter a correct username and password.")
		return
	}
	if !user.IsActive {
		redirectWithFlash(c, FlashError, "Account is not active. Please check your email to activate your account.", pathSignIn)
		return
	}

	now := timeNow()
	if err := DB.Model(&user).Update("last_login", now).Error; err != nil {
		serverError(c, "failed to record login", err)
		return
	}

	token, err := GenerateToken(user.ID, Cfg.JWTSecret, Cfg.SessionTTL)
	if err != nil {
		serverError(c, "failed to generate token", err)
		return
	}
	setSessionCookie(c, token)
	c.Redirect(http.StatusFound, safeNext(form.Next))
}

func SignOut(c *gin.Context) {
	clearSessionCookie(c)
	c.Redirect(http.StatusFound, pathSignIn)
}

// ========================
// ACTIVATION
// ========================

func ActivateUser(c *gin.Context) {
	id, ok := idParam(c, "user_id")
	if !ok {
		return
	}
	user, err := getUser(DB, id)
	if err != nil {
		if isNotFound(err) {
			jsonError(c, http.StatusNotFound, "User does not exist")
			return
		}
		serverError(c, "failed to load user", err)
		return
	}

	if !CheckUserToken(user, purposeActivate, c.Param("token"), Cfg.JWTSecret) {
		jsonError(c, http.StatusBadRequest, "Invalid token")
		return
	}

	if err := DB.Model(user).Update("is_active", true).Error; err != nil {
		serverError(c, "failed to activate user", err)
		return
	}
	invalidatePrincipal(c.Request.Context(), user.ID)
	accountsTotal.WithLabelValues("activate").Inc()

	redirectWithFlash(c, FlashSuccess, "Account activated successfully!", pathSignIn)
}

// ========================
// PASSWORD RESET
// ========================

type PasswordResetForm struct {
	Email string `form:"email" json:"email" binding:"required,email"`
}

type SetPasswordForm struct {
	NewPassword     string `form:"new_password1" json:"new_password1" binding:"required"`
	ConfirmPassword string `form:"new_password2" json:"new_password2" binding:"required"`
}

func PasswordResetPage(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"form":     PasswordResetForm{},
		"messages": pageMessages(c, FlashError),
	})
}

// PasswordReset mails a reset link when the address belongs to an active
// account. The answer is the same either way.
func PasswordReset(c *gin.Context) {
	var form PasswordResetForm
	if err := c.ShouldBind(&form); err != nil {
		formInvalid(c, form, bindingErrors(err)...)
		return
	}

	var user User
	err := DB.Where("LOWER(email) = LOWER(?)", strings.TrimSpace(form.Email)).First(&user).Error
	switch {
	case err == nil && user.IsActive:
		Notify.PasswordResetRequested(c.Request.Context(), &user)
	case err != nil && !isNotFound(err):
		serverError(c, "failed to look up email", err)
		return
	}

	redirectWithFlash(c, FlashSuccess, "A reset email has been sent. Please check your email.", pathSignIn)
}

// resetTarget loads the user behind a reset link and checks its token.
func resetTarget(c *gin.Context) (*User, bool) {
	id, ok := idParam(c, "user_id")
	if !ok {
		return nil, false
	}
	user, err := getUser(DB, id)
	if err != nil {
		if isNotFound(err) {
			jsonError(c, http.StatusNotFound, "User does not exist")
			return nil, false
		}
		serverError(c, "failed to load user", err)
		return nil, false
	}
	if !CheckUserToken(user, purposeReset, c.Param("token"), Cfg.JWTSecret) {
		jsonError(c, http.StatusBadRequest, "Invalid token")
		return nil, false
	}
	return user, true
}

func PasswordResetConfirmPage(c *gin.Context) {
	if _, ok := resetTarget(c); !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"form":     SetPasswordForm{},
		"messages": pageMessages(c, FlashError),
	})
}

func PasswordResetConfirm(c *gin.Context) {
	user, ok := resetTarget(c)
	if !ok {
		return
	}

	var form SetPasswordForm
	if err := c.ShouldBind(&form); err != nil {
		formInvalid(c, SetPasswordForm{}, bindingErrors(err)...)
		return
	}
	if errs := newPasswordErrors(form.NewPassword, form.ConfirmPassword); len(errs) > 0 {
		formInvalid(c, SetPasswordForm{}, errs...)
		return
	}

	if err := setPassword(user, form.NewPassword); err != nil {
		serverError(c, "failed to reset password", err)
		return
	}
	accountsTotal.WithLabelValues("password_reset").Inc()
	redirectWithFlash(c, FlashSuccess, "Password reset successfully!", pathSignIn)
}

var errEmptyPassword = errors.New("empty password")

// setPassword stores a new hash for user. Any outstanding reset token stops
// verifying because the hash is part of its fingerprint.
func setPassword(user *User, plain string) error {
	if plain == "" {
		return errEmptyPassword
	}
	hashed, err := hashPassword(plain)
	if err != nil {
		return err
	}
	if err := DB.Model(user).Update("password", hashed).Error; err != nil {
		return err
	}
	user.Password = hashed
	return nil
}
