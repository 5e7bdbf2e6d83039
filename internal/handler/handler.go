package handler

import (
	"marketplace-inbox/internal/services"
	"marketplace-inbox/internal/transport/httpdto"

	"github.com/gin-gonic/gin"
)

func respondError(c *gin.Context, err error) {
	c.JSON(services.HTTPStatus(err), httpdto.NewErrorResponse(err.Error(), services.ErrorCode(err)))
}
