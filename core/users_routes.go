package core

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

type userResponse struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	RoleIDs   []int64   `json:"roleIds"`
	Roles     []string  `json:"roles"`
	CreatedAt time.Time `json:"createdAt"`
}

func toUserResponse(u *UserRecord) userResponse {
	roleIDs := u.RoleIDs
	if roleIDs == nil {
		roleIDs = []int64{}
	}
	roles := u.Roles
	if roles == nil {
		roles = []string{}
	}
	return userResponse{ID: u.ID, Username: u.Username, RoleIDs: roleIDs, Roles: roles, CreatedAt: u.CreatedAt}
}

type detailsResponse struct {
	UserID      int64   `json:"userId"`
	FirstName   *string `json:"firstName"`
	LastName    *string `json:"lastName"`
	MiddleName  *string `json:"middleName"`
	Email       *string `json:"email"`
	DateOfBirth *string `json:"dateOfBirth"`
	PhoneNumber *string `json:"phoneNumber"`
	PhotoURL    *string `json:"photoUrl"`
}

func toDetailsResponse(d *UserDetails) detailsResponse {
	out := detailsResponse{
		UserID:      d.UserID,
		FirstName:   d.FirstName,
		LastName:    d.LastName,
		MiddleName:  d.MiddleName,
		Email:       d.Email,
		PhoneNumber: d.PhoneNumber,
		PhotoURL:    d.PhotoURL,
	}
	if d.DateOfBirth != nil {
		s := d.DateOfBirth.Format(dateLayout)
		out.DateOfBirth = &s
	}
	return out
}

// multipartOverhead is the allowance for multipart framing on top of PhotoMaxBytes.
const multipartOverhead = 64 * 1024

func registerUserRoutes(api *gin.RouterGroup, cfg Config, deps RouterDeps, log logrus.FieldLogger) {
	users := api.Group("/users")

	users.GET("", func(c *gin.Context) {
		page, perPage, err := parsePagination(c.Query("page"), c.Query("per_page"))
		if err != nil {
			writeError(c, log, err)
			return
		}
		items, total, err := deps.Users.List(c.Request.Context(), page, perPage)
		if err != nil {
			writeError(c, log, err)
			return
		}
		out := make([]userResponse, 0, len(items))
		for i := range items {
			out = append(out, toUserResponse(&items[i]))
		}
		c.JSON(http.StatusOK, gin.H{
			"items":       out,
			"page":        page,
			"per_page":    perPage,
			"total":       total,
			"total_pages": calcTotalPages(total, perPage),
		})
	})

	users.GET("/:id", func(c *gin.Context) {
		id, ok := pathID(c, log)
		if !ok {
			return
		}
		u, err := deps.Users.Get(c.Request.Context(), id)
		if err != nil {
			writeError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, toUserResponse(u))
	})

	users.POST("", AdminOnly(), func(c *gin.Context) {
		var in CreateUserInput
		if err := c.ShouldBindJSON(&in); err != nil {
			writeError(c, log, bindError(err))
			return
		}
		u, err := deps.Users.Create(c.Request.Context(), in)
		if err != nil {
			writeError(c, log, err)
			return
		}
		c.JSON(http.StatusCreated, toUserResponse(u))
	})

	users.PUT("/:id", func(c *gin.Context) {
		id, ok := pathID(c, log)
		if !ok {
			return
		}
		var in UpdateUserInput
		if err := c.ShouldBindJSON(&in); err != nil {
			writeError(c, log, bindError(err))
			return
		}
		p, ok := authorizeSelfOrAdmin(c, deps, log, id)
		if !ok {
			return
		}
		if in.RoleIDs != nil && !p.HasRole(RoleAdmin) {
			writeError(c, log, ErrForbidden)
			return
		}
		u, err := deps.Users.Update(c.Request.Context(), id, in)
		if err != nil {
			writeError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, toUserResponse(u))
	})

	users.DELETE("/:id", AdminOnly(), func(c *gin.Context) {
		id, ok := pathID(c, log)
		if !ok {
			return
		}
		if err := deps.Users.Delete(c.Request.Context(), id); err != nil {
			writeError(c, log, err)
			return
		}
		c.Status(http.StatusNoContent)
	})

	registerDetailsRoutes(users, deps, log)
	registerPhotoRoutes(users, cfg, deps, log)
}

func registerDetailsRoutes(users *gin.RouterGroup, deps RouterDeps, log logrus.FieldLogger) {
	users.GET("/:id/details", func(c *gin.Context) {
		id, ok := pathID(c, log)
		if !ok {
			return
		}
		d, err := deps.Details.Get(c.Request.Context(), id)
		if err != nil {
			writeError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, toDetailsResponse(d))
	})

	save := func(status int) gin.HandlerFunc {
		return func(c *gin.Context) {
			id, ok := pathID(c, log)
			if !ok {
				return
			}
			var in DetailsInput
			if err := c.ShouldBindJSON(&in); err != nil {
				writeError(c, log, bindError(err))
				return
			}
			if _, ok := authorizeSelfOrAdmin(c, deps, log, id); !ok {
				return
			}
			d, err := deps.Details.Save(c.Request.Context(), id, in)
			if err != nil {
				writeError(c, log, err)
				return
			}
			c.JSON(status, toDetailsResponse(d))
		}
	}
	users.POST("/:id/details", save(http.StatusCreated))
	users.PUT("/:id/details", save(http.StatusOK))

	users.DELETE("/:id/details", func(c *gin.Context) {
		id, ok := pathID(c, log)
		if !ok {
			return
		}
		if _, ok := authorizeSelfOrAdmin(c, deps, log, id); !ok {
			return
		}
		if err := deps.Details.Delete(c.Request.Context(), id); err != nil {
			writeError(c, log, err)
			return
		}
		c.Status(http.StatusNoContent)
	})
}

func registerPhotoRoutes(users *gin.RouterGroup, cfg Config, deps RouterDeps, log logrus.FieldLogger) {
	users.POST("/:id/photo", func(c *gin.Context) {
		id, ok := pathID(c, log)
		if !ok {
			return
		}
		if _, ok := authorizeSelfOrAdmin(c, deps, log, id); !ok {
			return
		}

		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, cfg.PhotoMaxBytes+multipartOverhead)
		fh, err := c.FormFile("file")
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeError(c, log, validationError("file is too large"))
				return
			}
			writeError(c, log, validationError("multipart field \"file\" is required"))
			return
		}
		if fh.Size > cfg.PhotoMaxBytes {
			writeError(c, log, validationError("file is too large"))
			return
		}
		f, err := fh.Open()
		if err != nil {
			writeError(c, log, err)
			return
		}
		defer f.Close()
		data, err := io.ReadAll(io.LimitReader(f, cfg.PhotoMaxBytes+1))
		if err != nil {
			writeError(c, log, err)
			return
		}
		if int64(len(data)) > cfg.PhotoMaxBytes {
			writeError(c, log, validationError("file is too large"))
			return
		}

		key, err := deps.Photos.Upload(c.Request.Context(), id, fh.Header.Get("Content-Type"), data)
		if err != nil {
			writeError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"photoUrl": key})
	})

	users.GET("/:id/photo", func(c *gin.Context) {
		id, ok := pathID(c, log)
		if !ok {
			return
		}
		photo, err := deps.Photos.Get(c.Request.Context(), id)
		if err != nil {
			writeError(c, log, err)
			return
		}
		c.Data(http.StatusOK, photo.ContentType, photo.Data)
	})

	users.DELETE("/:id/photo", func(c *gin.Context) {
		id, ok := pathID(c, log)
		if !ok {
			return
		}
		if _, ok := authorizeSelfOrAdmin(c, deps, log, id); !ok {
			return
		}
		if err := deps.Photos.Delete(c.Request.Context(), id); err != nil {
			writeError(c, log, err)
			return
		}
		c.Status(http.StatusNoContent)
	})
}

func pathID(c *gin.Context, log logrus.FieldLogger) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(c, log, validationError("id must be a positive integer"))
		return 0, false
	}
	return id, true
}

// authorizeSelfOrAdmin lets admins act on any user and other principals only
// on the account whose username equals their subject.
func authorizeSelfOrAdmin(c *gin.Context, deps RouterDeps, log logrus.FieldLogger, userID int64) (Principal, bool) {
	p, ok := requireLogin(c)
	if !ok {
		return Principal{}, false
	}
	if p.HasRole(RoleAdmin) {
		return p, true
	}
	u, err := deps.Users.Get(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			writeError(c, log, ErrForbidden)
			return Principal{}, false
		}
		writeError(c, log, err)
		return Principal{}, false
	}
	if u.Username != p.Subject {
		writeError(c, log, ErrForbidden)
		return Principal{}, false
	}
	return p, true
}
