package v1

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/wardenhq/warden/internal/auth"
	"github.com/wardenhq/warden/internal/server/middleware"
)

type SignupInput struct {
	Body struct {
		OrgName  string `json:"org_name" minLength:"1" maxLength:"255" doc:"Organization name"`
		Email    string `json:"email" minLength:"3" maxLength:"255" doc:"Operator email"`
		Password string `json:"password" minLength:"8" maxLength:"128" doc:"Password"` //nolint:gosec // G117: signup credential DTO
	}
}

type SignupOutput struct {
	Status int
	Body   struct {
		OrgID  string   `json:"org_id"`
		APIKey string   `json:"api_key" doc:"Shown once; only a hash is stored"` //nolint:gosec // G117: signup response DTO
		User   UserView `json:"user"`
	}
}

type LoginInput struct {
	Body struct {
		Email    string `json:"email" minLength:"3" maxLength:"255" doc:"Operator email"`
		Password string `json:"password" minLength:"1" maxLength:"128" doc:"Password"` //nolint:gosec // G117: login credential DTO
	}
}

type LoginOutput struct {
	Body struct {
		AccessToken string   `json:"access_token"` //nolint:gosec // G117: auth response DTO
		User        UserView `json:"user"`
	}
}

type MeInput struct{}

type MeOutput struct {
	Body UserView
}

// UserView is the outward shape of an operator account. Password hashes
// never leave the auth package.
type UserView struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

func RegisterAuthRoutes(api huma.API, authSvc AuthService) {
	huma.Register(api, huma.Operation{
		OperationID: "signup",
		Method:      http.MethodPost,
		Path:        "/v1/auth/signup",
		Summary:     "Create an organization and its first operator",
		Tags:        []string{"Auth"},
	}, func(ctx context.Context, input *SignupInput) (*SignupOutput, error) {
		org, user, apiKey, err := authSvc.Signup(ctx, input.Body.OrgName, input.Body.Email, input.Body.Password)
		if err != nil {
			if errors.Is(err, auth.ErrUserAlreadyExists) {
				return nil, huma.Error409Conflict("email already registered")
			}
			return nil, huma.Error500InternalServerError("signup failed", err)
		}

		out := &SignupOutput{Status: http.StatusCreated}
		out.Body.OrgID = org.ID.String()
		out.Body.APIKey = apiKey
		out.Body.User = UserView{ID: user.ID.String(), Email: user.Email, Role: user.Role}
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "login",
		Method:      http.MethodPost,
		Path:        "/v1/auth/login",
		Summary:     "Login with email and password",
		Tags:        []string{"Auth"},
	}, func(ctx context.Context, input *LoginInput) (*LoginOutput, error) {
		token, user, err := authSvc.Login(ctx, input.Body.Email, input.Body.Password)
		if err != nil {
			if errors.Is(err, auth.ErrInvalidCredentials) {
				return nil, huma.Error401Unauthorized("invalid email or password")
			}
			return nil, huma.Error500InternalServerError("login failed", err)
		}

		out := &LoginOutput{}
		out.Body.AccessToken = token
		out.Body.User = UserView{ID: user.ID.String(), Email: user.Email, Role: user.Role}
		return out, nil
	})
}

// RegisterAccountRoutes wires the operations that need an authenticated
// operator, unlike signup and login above.
func RegisterAccountRoutes(api huma.API, authSvc AuthService) {
	huma.Register(api, huma.Operation{
		OperationID: "get-me",
		Method:      http.MethodGet,
		Path:        "/v1/auth/me",
		Summary:     "Get the authenticated operator",
		Tags:        []string{"Auth"},
	}, func(ctx context.Context, _ *MeInput) (*MeOutput, error) {
		orgID, ok := middleware.OrgIDFromContext(ctx)
		if !ok {
			return nil, huma.Error403Forbidden("missing organization context")
		}
		userID, ok := middleware.UserIDFromContext(ctx)
		if !ok {
			return nil, huma.Error403Forbidden("requires an operator token")
		}

		user, err := authSvc.GetUser(ctx, orgID, userID)
		if err != nil {
			if errors.Is(err, auth.ErrUserNotFound) {
				return nil, huma.Error404NotFound("user not found")
			}
			return nil, huma.Error500InternalServerError("failed to load user", err)
		}

		return &MeOutput{Body: UserView{ID: user.ID.String(), Email: user.Email, Role: user.Role}}, nil
	})
}
