package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gavv/httpexpect/v2"
	"github.com/go-chi/httplog/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/snaplink/snaplink/internal/database"
	"github.com/snaplink/snaplink/internal/models"
	"github.com/snaplink/snaplink/internal/service"
	"github.com/snaplink/snaplink/pkg/response"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
)

type MockLinkService struct {
	mock.Mock
}

func (s *MockLinkService) CreateLink(ctx context.Context, ownerID int64, originalURL string, title *string) (*models.Link, error) {
	args := s.Called(ctx, ownerID, originalURL, title)
	link, _ := args.Get(0).(*models.Link)
	return link, args.Error(1)
}

func (s *MockLinkService) Resolve(ctx context.Context, shortCode string) (string, error) {
	args := s.Called(ctx, shortCode)
	return args.String(0), args.Error(1)
}

func (s *MockLinkService) GetLink(ctx context.Context, id, ownerID int64) (*models.Link, error) {
	args := s.Called(ctx, id, ownerID)
	link, _ := args.Get(0).(*models.Link)
	return link, args.Error(1)
}

func (s *MockLinkService) ListLinks(ctx context.Context, ownerID int64) ([]*models.Link, error) {
	args := s.Called(ctx, ownerID)
	links, _ := args.Get(0).([]*models.Link)
	return links, args.Error(1)
}

func (s *MockLinkService) UpdateLink(ctx context.Context, id, ownerID int64, originalURL, title *string) (*models.Link, error) {
	args := s.Called(ctx, id, ownerID, originalURL, title)
	link, _ := args.Get(0).(*models.Link)
	return link, args.Error(1)
}

func (s *MockLinkService) DeleteLink(ctx context.Context, id, ownerID int64) error {
	args := s.Called(ctx, id, ownerID)
	return args.Error(0)
}

func (s *MockLinkService) SuggestTitles(ctx context.Context, rawURL string) []string {
	args := s.Called(ctx, rawURL)
	titles, _ := args.Get(0).([]string)
	return titles
}

const (
	testJWTSecret = "test-secret"
	testOwnerID   = int64(42)
	testBaseURL   = "https://snap.link"
)

type HandlersTestSuite struct {
	suite.Suite
	logger      *httplog.Logger
	linkSvcMock *MockLinkService
	server      *httptest.Server
	e           *httpexpect.Expect
	authHeader  string
}

func (suite *HandlersTestSuite) SetupSuite() {
	suite.logger = httplog.NewLogger("", httplog.Options{Writer: io.Discard})

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   fmt.Sprintf("%d", testOwnerID),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := token.SignedString([]byte(testJWTSecret))
	suite.Require().NoError(err)
	suite.authHeader = "Bearer " + signed
}

func (suite *HandlersTestSuite) SetupSubTest() {
	suite.linkSvcMock = new(MockLinkService)
	router := NewRouter(suite.logger, suite.linkSvcMock, RouterConfig{
		BaseURL:   testBaseURL,
		JWTSecret: []byte(testJWTSecret),
	})
	suite.server = httptest.NewServer(router)

	// The redirect endpoint must be observable as a 302, so the test
	// client never follows redirects.
	suite.e = httpexpect.WithConfig(httpexpect.Config{
		BaseURL:  suite.server.URL,
		Reporter: httpexpect.NewAssertReporter(suite.T()),
		Client: &http.Client{
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	})
}

func (suite *HandlersTestSuite) TearDownSubTest() {
	suite.linkSvcMock.AssertExpectations(suite.T())
	suite.server.Close()
}

func (suite *HandlersTestSuite) TestPing() {
	const path = "/ping"

	suite.Run("success", func() {
		suite.e.GET(path).
			Expect().
			Status(http.StatusOK).
			Text().IsEqual("pong\n")
	})
}

func (suite *HandlersTestSuite) TestCORSPreflight() {
	const path = "/url"

	suite.Run("caches preflight for a day", func() {
		suite.e.OPTIONS(path).
			WithHeader("Origin", "https://app.snap.link").
			WithHeader("Access-Control-Request-Method", "POST").
			Expect().
			Status(http.StatusOK).
			Header("Access-Control-Max-Age").IsEqual("86400")
	})
}

func (suite *HandlersTestSuite) TestRedirect() {
	const path = "/%s"

	suite.Run("not found", func() {
		suite.linkSvcMock.
			On("Resolve", mock.Anything, "abc12345").
			Times(1).
			Return("", database.ErrLinkNotFound)

		suite.e.GET(fmt.Sprintf(path, "abc12345")).
			Expect().
			Status(http.StatusNotFound).
			HasContentType("application/json").
			JSON().Object().
			HasValue("message", "URL not found")
	})

	suite.Run("server error", func() {
		suite.linkSvcMock.
			On("Resolve", mock.Anything, "abc12345").
			Times(1).
			Return("", errors.New("unknown error"))

		suite.e.GET(fmt.Sprintf(path, "abc12345")).
			Expect().
			Status(http.StatusInternalServerError).
			HasContentType("application/json").
			JSON().Object().
			HasValue("message", "Server error")
	})

	suite.Run("success", func() {
		suite.linkSvcMock.
			On("Resolve", mock.Anything, "abc12345").
			Times(1).
			Return("https://example.com", nil)

		suite.e.GET(fmt.Sprintf(path, "abc12345")).
			Expect().
			Status(http.StatusFound).
			Header("Location").IsEqual("https://example.com")
	})
}

func (suite *HandlersTestSuite) TestAuthentication() {
	const path = "/url"

	suite.Run("missing token", func() {
		suite.e.GET(path).
			Expect().
			Status(http.StatusUnauthorized).
			HasContentType("application/json").
			JSON().Object().
			HasValue("status", response.StatusError).
			HasValue("message", response.UnauthorizedResponse.Message)
	})

	suite.Run("malformed token", func() {
		suite.e.GET(path).
			WithHeader("Authorization", "Bearer not-a-token").
			Expect().
			Status(http.StatusUnauthorized).
			HasContentType("application/json").
			JSON().Object().
			HasValue("status", response.StatusError).
			HasValue("message", response.UnauthorizedResponse.Message)
	})

	suite.Run("wrong signing key", func() {
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
			Subject:   "42",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		})
		signed, err := token.SignedString([]byte("other-secret"))
		suite.Require().NoError(err)

		suite.e.GET(path).
			WithHeader("Authorization", "Bearer "+signed).
			Expect().
			Status(http.StatusUnauthorized).
			HasContentType("application/json").
			JSON().Object().
			HasValue("status", response.StatusError).
			HasValue("message", response.UnauthorizedResponse.Message)
	})

	suite.Run("expired token", func() {
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
			Subject:   "42",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		})
		signed, err := token.SignedString([]byte(testJWTSecret))
		suite.Require().NoError(err)

		suite.e.GET(path).
			WithHeader("Authorization", "Bearer "+signed).
			Expect().
			Status(http.StatusUnauthorized).
			HasContentType("application/json").
			JSON().Object().
			HasValue("status", response.StatusError).
			HasValue("message", response.UnauthorizedResponse.Message)
	})
}

func (suite *HandlersTestSuite) TestCreateLink() {
	const path = "/url"

	suite.Run("empty request body", func() {
		suite.e.POST(path).
			WithHeader("Authorization", suite.authHeader).
			Expect().
			Status(http.StatusBadRequest).
			HasContentType("application/json").
			JSON().Object().
			HasValue("status", response.StatusError).
			HasValue("message", response.EmptyRequestBodyResponse.Message)
	})

	suite.Run("invalid request body", func() {
		suite.e.POST(path).
			WithHeader("Authorization", suite.authHeader).
			WithJSON("invalid body").
			Expect().
			Status(http.StatusBadRequest).
			HasContentType("application/json").
			JSON().Object().
			HasValue("status", response.StatusError).
			HasValue("message", response.BadRequestResponse.Message)
	})

	suite.Run("validation error", func() {
		suite.e.POST(path).
			WithHeader("Authorization", suite.authHeader).
			WithJSON(map[string]string{
				"original_url": "invalid url",
			}).
			Expect().
			Status(http.StatusBadRequest).
			HasContentType("application/json").
			JSON().Object().
			HasValue("status", response.StatusError).
			ContainsKey("message").
			ContainsKey("details")
	})

	suite.Run("short code space exhausted", func() {
		suite.linkSvcMock.
			On("CreateLink", mock.Anything, testOwnerID, "https://example.com", (*string)(nil)).
			Times(1).
			Return(nil, service.ErrMaxRetriesExceeded)

		suite.e.POST(path).
			WithHeader("Authorization", suite.authHeader).
			WithJSON(map[string]string{
				"original_url": "https://example.com",
			}).
			Expect().
			Status(http.StatusServiceUnavailable).
			HasContentType("application/json").
			JSON().Object().
			HasValue("status", response.StatusError).
			HasValue("message", response.ResourceExhaustedResponse.Message)
	})

	suite.Run("server error", func() {
		suite.linkSvcMock.
			On("CreateLink", mock.Anything, testOwnerID, "https://example.com", (*string)(nil)).
			Times(1).
			Return(nil, errors.New("unknown error"))

		suite.e.POST(path).
			WithHeader("Authorization", suite.authHeader).
			WithJSON(map[string]string{
				"original_url": "https://example.com",
			}).
			Expect().
			Status(http.StatusInternalServerError).
			HasContentType("application/json").
			JSON().Object().
			HasValue("status", response.StatusError).
			HasValue("message", response.ServerErrorResponse.Message)
	})

	suite.Run("success", func() {
		title := "Example"

		suite.linkSvcMock.
			On("CreateLink", mock.Anything, testOwnerID, "https://example.com", &title).
			Times(1).
			Return(&models.Link{
				ID:          1,
				OwnerID:     testOwnerID,
				ShortCode:   "abc12345",
				OriginalURL: "https://example.com",
				Title:       &title,
			}, nil)

		suite.e.POST(path).
			WithHeader("Authorization", suite.authHeader).
			WithJSON(map[string]string{
				"original_url": "https://example.com",
				"title":        "Example",
			}).
			Expect().
			Status(http.StatusCreated).
			HasContentType("application/json").
			JSON().Object().
			HasValue("status", response.StatusSuccess).
			ContainsKey("message").
			Value("data").Object().
			HasValue("short_code", "abc12345").
			HasValue("original_url", "https://example.com").
			HasValue("title", "Example")
	})
}

func (suite *HandlersTestSuite) TestListLinks() {
	const path = "/url"

	suite.Run("server error", func() {
		suite.linkSvcMock.
			On("ListLinks", mock.Anything, testOwnerID).
			Times(1).
			Return(nil, errors.New("unknown error"))

		suite.e.GET(path).
			WithHeader("Authorization", suite.authHeader).
			Expect().
			Status(http.StatusInternalServerError).
			HasContentType("application/json").
			JSON().Object().
			HasValue("status", response.StatusError).
			HasValue("message", response.ServerErrorResponse.Message)
	})

	suite.Run("success", func() {
		suite.linkSvcMock.
			On("ListLinks", mock.Anything, testOwnerID).
			Times(1).
			Return([]*models.Link{
				{ID: 2, ShortCode: "def67890", OriginalURL: "https://example.org"},
				{ID: 1, ShortCode: "abc12345", OriginalURL: "https://example.com"},
			}, nil)

		data := suite.e.GET(path).
			WithHeader("Authorization", suite.authHeader).
			Expect().
			Status(http.StatusOK).
			HasContentType("application/json").
			JSON().Object().
			HasValue("status", response.StatusSuccess).
			Value("data").Array()

		data.Length().IsEqual(2)
		data.Value(0).Object().HasValue("short_code", "def67890")
		data.Value(1).Object().HasValue("short_code", "abc12345")
	})

	suite.Run("success with no links", func() {
		suite.linkSvcMock.
			On("ListLinks", mock.Anything, testOwnerID).
			Times(1).
			Return([]*models.Link{}, nil)

		suite.e.GET(path).
			WithHeader("Authorization", suite.authHeader).
			Expect().
			Status(http.StatusOK).
			HasContentType("application/json").
			JSON().Object().
			HasValue("status", response.StatusSuccess).
			Value("data").Array().IsEmpty()
	})
}

func (suite *HandlersTestSuite) TestGetLink() {
	const path = "/url/%v"

	suite.Run("invalid id", func() {
		suite.e.GET(fmt.Sprintf(path, "abc")).
			WithHeader("Authorization", suite.authHeader).
			Expect().
			Status(http.StatusBadRequest).
			HasContentType("application/json").
			JSON().Object().
			HasValue("status", response.StatusError).
			HasValue("message", response.BadRequestResponse.Message)
	})

	suite.Run("not found", func() {
		suite.linkSvcMock.
			On("GetLink", mock.Anything, int64(1), testOwnerID).
			Times(1).
			Return(nil, database.ErrLinkNotFound)

		suite.e.GET(fmt.Sprintf(path, 1)).
			WithHeader("Authorization", suite.authHeader).
			Expect().
			Status(http.StatusNotFound).
			HasContentType("application/json").
			JSON().Object().
			HasValue("status", response.StatusError).
			HasValue("message", response.ResourceNotFoundResponse.Message)
	})

	suite.Run("success", func() {
		suite.linkSvcMock.
			On("GetLink", mock.Anything, int64(1), testOwnerID).
			Times(1).
			Return(&models.Link{
				ID:          1,
				OwnerID:     testOwnerID,
				ShortCode:   "abc12345",
				OriginalURL: "https://example.com",
				Clicks:      7,
			}, nil)

		suite.e.GET(fmt.Sprintf(path, 1)).
			WithHeader("Authorization", suite.authHeader).
			Expect().
			Status(http.StatusOK).
			HasContentType("application/json").
			JSON().Object().
			HasValue("status", response.StatusSuccess).
			Value("data").Object().
			HasValue("short_code", "abc12345").
			HasValue("clicks", int64(7))
	})
}

func (suite *HandlersTestSuite) TestUpdateLink() {
	const path = "/url/%v"

	suite.Run("empty request body", func() {
		suite.e.PUT(fmt.Sprintf(path, 1)).
			WithHeader("Authorization", suite.authHeader).
			Expect().
			Status(http.StatusBadRequest).
			HasContentType("application/json").
			JSON().Object().
			HasValue("status", response.StatusError).
			HasValue("message", response.EmptyRequestBodyResponse.Message)
	})

	suite.Run("no updatable fields", func() {
		suite.e.PUT(fmt.Sprintf(path, 1)).
			WithHeader("Authorization", suite.authHeader).
			WithJSON(map[string]string{}).
			Expect().
			Status(http.StatusBadRequest).
			HasContentType("application/json").
			JSON().Object().
			HasValue("status", response.StatusError).
			HasValue("message", response.BadRequestResponse.Message)
	})

	suite.Run("validation error", func() {
		suite.e.PUT(fmt.Sprintf(path, 1)).
			WithHeader("Authorization", suite.authHeader).
			WithJSON(map[string]string{
				"original_url": "invalid url",
			}).
			Expect().
			Status(http.StatusBadRequest).
			HasContentType("application/json").
			JSON().Object().
			HasValue("status", response.StatusError).
			ContainsKey("message").
			ContainsKey("details")
	})

	suite.Run("not found", func() {
		newURL := "https://new-example.com"

		suite.linkSvcMock.
			On("UpdateLink", mock.Anything, int64(1), testOwnerID, &newURL, (*string)(nil)).
			Times(1).
			Return(nil, database.ErrLinkNotFound)

		suite.e.PUT(fmt.Sprintf(path, 1)).
			WithHeader("Authorization", suite.authHeader).
			WithJSON(map[string]string{
				"original_url": "https://new-example.com",
			}).
			Expect().
			Status(http.StatusNotFound).
			HasContentType("application/json").
			JSON().Object().
			HasValue("status", response.StatusError).
			HasValue("message", response.ResourceNotFoundResponse.Message)
	})

	suite.Run("success", func() {
		newURL := "https://new-example.com"

		suite.linkSvcMock.
			On("UpdateLink", mock.Anything, int64(1), testOwnerID, &newURL, (*string)(nil)).
			Times(1).
			Return(&models.Link{
				ID:          1,
				OwnerID:     testOwnerID,
				ShortCode:   "abc12345",
				OriginalURL: "https://new-example.com",
			}, nil)

		suite.e.PUT(fmt.Sprintf(path, 1)).
			WithHeader("Authorization", suite.authHeader).
			WithJSON(map[string]string{
				"original_url": "https://new-example.com",
			}).
			Expect().
			Status(http.StatusOK).
			HasContentType("application/json").
			JSON().Object().
			HasValue("status", response.StatusSuccess).
			Value("data").Object().
			HasValue("original_url", "https://new-example.com")
	})
}

func (suite *HandlersTestSuite) TestDeleteLink() {
	const path = "/url/%v"

	suite.Run("not found", func() {
		suite.linkSvcMock.
			On("DeleteLink", mock.Anything, int64(1), testOwnerID).
			Times(1).
			Return(database.ErrLinkNotFound)

		suite.e.DELETE(fmt.Sprintf(path, 1)).
			WithHeader("Authorization", suite.authHeader).
			Expect().
			Status(http.StatusNotFound).
			HasContentType("application/json").
			JSON().Object().
			HasValue("status", response.StatusError).
			HasValue("message", response.ResourceNotFoundResponse.Message)
	})

	suite.Run("success", func() {
		suite.linkSvcMock.
			On("DeleteLink", mock.Anything, int64(1), testOwnerID).
			Times(1).
			Return(nil)

		suite.e.DELETE(fmt.Sprintf(path, 1)).
			WithHeader("Authorization", suite.authHeader).
			Expect().
			Status(http.StatusOK).
			HasContentType("application/json").
			JSON().Object().
			HasValue("status", response.StatusSuccess).
			ContainsKey("message")
	})
}

func (suite *HandlersTestSuite) TestLinkQRCode() {
	const path = "/url/%v/qr"

	suite.Run("invalid size", func() {
		suite.e.GET(fmt.Sprintf(path, 1)).
			WithHeader("Authorization", suite.authHeader).
			WithQuery("size", "huge").
			Expect().
			Status(http.StatusBadRequest).
			HasContentType("application/json").
			JSON().Object().
			HasValue("status", response.StatusError).
			HasValue("message", response.BadRequestResponse.Message)
	})

	suite.Run("not found", func() {
		suite.linkSvcMock.
			On("GetLink", mock.Anything, int64(1), testOwnerID).
			Times(1).
			Return(nil, database.ErrLinkNotFound)

		suite.e.GET(fmt.Sprintf(path, 1)).
			WithHeader("Authorization", suite.authHeader).
			Expect().
			Status(http.StatusNotFound).
			HasContentType("application/json").
			JSON().Object().
			HasValue("status", response.StatusError).
			HasValue("message", response.ResourceNotFoundResponse.Message)
	})

	suite.Run("success", func() {
		suite.linkSvcMock.
			On("GetLink", mock.Anything, int64(1), testOwnerID).
			Times(1).
			Return(&models.Link{
				ID:          1,
				OwnerID:     testOwnerID,
				ShortCode:   "abc12345",
				OriginalURL: "https://example.com",
			}, nil)

		suite.e.GET(fmt.Sprintf(path, 1)).
			WithHeader("Authorization", suite.authHeader).
			Expect().
			Status(http.StatusOK).
			HasContentType("image/png").
			Body().NotEmpty()
	})
}

func (suite *HandlersTestSuite) TestTitleSuggestions() {
	const path = "/url/title/suggestions"

	suite.Run("missing url param", func() {
		suite.e.GET(path).
			WithHeader("Authorization", suite.authHeader).
			Expect().
			Status(http.StatusBadRequest).
			HasContentType("application/json").
			JSON().Object().
			HasValue("status", response.StatusError).
			HasValue("message", response.BadRequestResponse.Message)
	})

	suite.Run("invalid url param", func() {
		suite.e.GET(path).
			WithHeader("Authorization", suite.authHeader).
			WithQuery("url", "not a url").
			Expect().
			Status(http.StatusBadRequest).
			HasContentType("application/json").
			JSON().Object().
			HasValue("status", response.StatusError).
			ContainsKey("message")
	})

	suite.Run("success", func() {
		suite.linkSvcMock.
			On("SuggestTitles", mock.Anything, "https://example.com/article").
			Times(1).
			Return([]string{"Example Article", "example.com - Example", "Saved Link"})

		suite.e.GET(path).
			WithHeader("Authorization", suite.authHeader).
			WithQuery("url", "https://example.com/article").
			Expect().
			Status(http.StatusOK).
			HasContentType("application/json").
			JSON().Object().
			HasValue("status", response.StatusSuccess).
			Value("data").Object().
			Value("suggestions").Array().
			IsEqual([]string{"Example Article", "example.com - Example", "Saved Link"})
	})
}

func TestAPI(t *testing.T) {
	suite.Run(t, new(HandlersTestSuite))
}
