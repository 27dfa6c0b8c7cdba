package auth

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/apperr"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/user/entity"
)

const maxBodyBytes = 1 << 20

// Handler exposes the auth endpoints.
type Handler struct {
	svc    *Service
	logger *zap.SugaredLogger
}

func NewHandler(svc *Service, logger *zap.SugaredLogger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

type messageResponse struct {
	Message string `json:"message"`
}

type authResponse struct {
	Message string      `json:"message"`
	Token   string      `json:"token"`
	User    entity.View `json:"user"`
}

type otpResponse struct {
	Status    string    `json:"status"`
	Message   string    `json:"message"`
	ValidTill time.Time `json:"validTill"`
}

type verifyOTPResponse struct {
	Status  string      `json:"status"`
	Message string      `json:"message"`
	User    entity.View `json:"user"`
}

type statusResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type validator interface {
	Validate() error
}

func (h *Handler) Signup(w http.ResponseWriter, r *http.Request) {
	var in SignupInput
	if !h.decode(w, r, &in) {
		return
	}
	res, err := h.svc.Signup(r.Context(), in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, authResponse{Message: "User created successfully", Token: res.Token, User: res.User})
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var in LoginInput
	if !h.decode(w, r, &in) {
		return
	}
	res, err := h.svc.Login(r.Context(), in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, authResponse{Message: "Login successful", Token: res.Token, User: res.User})
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	h.svc.Logout(r.Context())
	h.writeJSON(w, http.StatusOK, messageResponse{Message: "Logout successful"})
}

func (h *Handler) Profile(w http.ResponseWriter, r *http.Request) {
	view, err := h.svc.Profile(r.Context(), UserIDFrom(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, view)
}

func (h *Handler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	var in ProfileInput
	if !h.decode(w, r, &in) {
		return
	}
	view, err := h.svc.UpdateProfile(r.Context(), UserIDFrom(r.Context()), in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, view)
}

func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var in ChangePasswordInput
	if !h.decode(w, r, &in) {
		return
	}
	if err := h.svc.ChangePassword(r.Context(), UserIDFrom(r.Context()), in); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, messageResponse{Message: "Password changed successfully"})
}

// ResendOTP never exposes the code itself.
func (h *Handler) ResendOTP(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.ResendOTP(r.Context(), UserIDFrom(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	msg := "OTP resent successfully"
	if st.Fresh {
		msg = "OTP sent successfully"
	}
	h.writeJSON(w, http.StatusOK, otpResponse{Status: "success", Message: msg, ValidTill: st.Entry.ValidTill})
}

func (h *Handler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	var in VerifyOTPInput
	if !h.decode(w, r, &in) {
		return
	}
	view, err := h.svc.VerifyOTP(r.Context(), UserIDFrom(r.Context()), in.OTP)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, verifyOTPResponse{Status: "success", Message: "OTP verified successfully", User: view})
}

func (h *Handler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var in ForgotPasswordInput
	if !h.decode(w, r, &in) {
		return
	}
	if err := h.svc.ForgotPassword(r.Context(), in.Email); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, messageResponse{Message: "Password reset link sent to your email"})
}

func (h *Handler) VerifyResetToken(w http.ResponseWriter, r *http.Request) {
	var in VerifyResetTokenInput
	if !h.decode(w, r, &in) {
		return
	}
	if err := h.svc.VerifyResetToken(r.Context(), in.ResetToken); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, statusResponse{Status: "success", Message: "Reset token is valid"})
}

func (h *Handler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var in ResetPasswordInput
	if !h.decode(w, r, &in) {
		return
	}
	if err := h.svc.ResetPassword(r.Context(), in.ResetToken, in.NewPassword); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, messageResponse{Message: "Password reset successfully"})
}

// decode reads and validates the JSON body. It writes the error response and
// returns false on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst validator) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		h.logger.Debugw("invalid payload", "path", r.URL.Path, "err", err)
		h.writeError(w, r, apperr.Wrap(apperr.KindInvalidInput, "invalid payload", err))
		return false
	}
	if err := dst.Validate(); err != nil {
		h.writeError(w, r, err)
		return false
	}
	return true
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperr.KindOf(err)
	if kind == apperr.KindInternal {
		h.logger.Errorw("request failed", "path", r.URL.Path, "err", err)
	} else {
		h.logger.Debugw("request rejected", "path", r.URL.Path, "kind", kind.String(), "err", err)
	}
	h.writeJSON(w, apperr.HTTPStatus(kind), errorResponse{Error: kind.String(), Message: apperr.MessageOf(err)})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warnw("encode response", "err", err)
	}
}
