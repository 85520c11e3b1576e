package httpapi

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/atonlab/iam"
)

type createUserRequest struct {
	Username            string   `json:"username"`
	Email               string   `json:"email"`
	EmailVerified       bool     `json:"emailVerified"`
	PhoneNumber         string   `json:"phoneNumber"`
	PhoneNumberVerified bool     `json:"phoneNumberVerified"`
	Password            string   `json:"password"`
	Permissions         []string `json:"permissions"`
	Roles               []string `json:"roles"`
}

func (s *Server) createUser(c *gin.Context) {
	var req createUserRequest
	if !s.bind(c, &req) {
		return
	}
	user, err := s.engine.CreateUser(c.Request.Context(), iam.CreateUserInput{
		Username:            req.Username,
		Email:               req.Email,
		EmailVerified:       req.EmailVerified,
		PhoneNumber:         req.PhoneNumber,
		PhoneNumberVerified: req.PhoneNumberVerified,
		Password:            req.Password,
		Permissions:         req.Permissions,
		Roles:               req.Roles,
	})
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, user)
}

func intQuery(c *gin.Context, name string) int64 {
	v, _ := strconv.ParseInt(c.Query(name), 10, 64)
	return v
}

func (s *Server) listUsers(c *gin.Context) {
	filter := iam.UserFilter{
		Username:    c.Query("username"),
		Email:       c.Query("email"),
		PhoneNumber: c.Query("phoneNumber"),
		Permission:  c.Query("permission"),
		Role:        c.Query("role"),
		SortBy:      c.Query("sortBy"),
		OrderBy:     c.Query("orderBy"),
		Skip:        intQuery(c, "skip"),
		Limit:       intQuery(c, "limit"),
	}
	users, count, err := s.engine.GetUsers(c.Request.Context(), filter)
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": count, "users": users})
}

func (s *Server) getUser(c *gin.Context) {
	user, err := s.engine.GetUser(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

type grantNamesRequest struct {
	Names []string `json:"names"`
}

func (s *Server) updateUserPermissions(c *gin.Context) {
	var req grantNamesRequest
	if !s.bind(c, &req) {
		return
	}
	user, err := s.engine.UpdateUserPermissions(c.Request.Context(), c.Param("id"), req.Names)
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

func (s *Server) updateUserRoles(c *gin.Context) {
	var req grantNamesRequest
	if !s.bind(c, &req) {
		return
	}
	user, err := s.engine.UpdateUserRoles(c.Request.Context(), c.Param("id"), req.Names)
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

func (s *Server) blockUser(c *gin.Context) {
	if err := s.engine.BlockUser(c.Request.Context(), c.Param("id")); err != nil {
		s.abortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) unblockUser(c *gin.Context) {
	if err := s.engine.UnblockUser(c.Request.Context(), c.Param("id")); err != nil {
		s.abortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) revokeUserSessions(c *gin.Context) {
	if err := s.engine.SignOutAll(c.Request.Context(), c.Param("id")); err != nil {
		s.abortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type createPermissionRequest struct {
	Name        string `json:"name" binding:"required"`
	Alias       string `json:"alias"`
	Description string `json:"description"`
}

func (s *Server) createPermission(c *gin.Context) {
	var req createPermissionRequest
	if !s.bind(c, &req) {
		return
	}
	perm, err := s.engine.CreatePermission(c.Request.Context(), req.Name, req.Alias, req.Description)
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, perm)
}

func listFilterFrom(c *gin.Context) iam.ListFilter {
	return iam.ListFilter{
		Name:    c.Query("name"),
		SortBy:  c.Query("sortBy"),
		OrderBy: c.Query("orderBy"),
		Skip:    intQuery(c, "skip"),
		Limit:   intQuery(c, "limit"),
	}
}

func (s *Server) listPermissions(c *gin.Context) {
	perms, count, err := s.engine.GetPermissions(c.Request.Context(), listFilterFrom(c))
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": count, "permissions": perms})
}

func (s *Server) getPermission(c *gin.Context) {
	perm, err := s.engine.GetPermission(c.Request.Context(), c.Param("name"))
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, perm)
}

type updatePermissionRequest struct {
	Alias       *string `json:"alias"`
	Description *string `json:"description"`
}

func (s *Server) updatePermission(c *gin.Context) {
	var req updatePermissionRequest
	if !s.bind(c, &req) {
		return
	}
	perm, err := s.engine.UpdatePermission(c.Request.Context(), c.Param("name"), iam.PermissionUpdate{
		Alias:       req.Alias,
		Description: req.Description,
	})
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, perm)
}

func (s *Server) deletePermission(c *gin.Context) {
	if err := s.engine.DeletePermission(c.Request.Context(), c.Param("name")); err != nil {
		s.abortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type createRoleRequest struct {
	Name        string   `json:"name" binding:"required"`
	Permissions []string `json:"permissions"`
	Alias       string   `json:"alias"`
	Description string   `json:"description"`
}

func (s *Server) createRole(c *gin.Context) {
	var req createRoleRequest
	if !s.bind(c, &req) {
		return
	}
	role, err := s.engine.CreateRole(c.Request.Context(), req.Name, req.Permissions, req.Alias, req.Description)
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, role)
}

func (s *Server) listRoles(c *gin.Context) {
	roles, count, err := s.engine.GetRoles(c.Request.Context(), listFilterFrom(c))
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": count, "roles": roles})
}

func (s *Server) getRole(c *gin.Context) {
	role, err := s.engine.GetRole(c.Request.Context(), c.Param("name"))
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, role)
}

type updateRoleRequest struct {
	Permissions *[]string `json:"permissions"`
	Alias       *string   `json:"alias"`
	Description *string   `json:"description"`
}

func (s *Server) updateRole(c *gin.Context) {
	var req updateRoleRequest
	if !s.bind(c, &req) {
		return
	}
	role, err := s.engine.UpdateRole(c.Request.Context(), c.Param("name"), iam.RoleUpdate{
		Permissions: req.Permissions,
		Alias:       req.Alias,
		Description: req.Description,
	})
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, role)
}

func (s *Server) deleteRole(c *gin.Context) {
	if err := s.engine.DeleteRole(c.Request.Context(), c.Param("name")); err != nil {
		s.abortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
