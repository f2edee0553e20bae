package response

import (
	"net/http"

	constants "AlertaPiura/pkg/constant"
	"AlertaPiura/pkg/errors"
	"AlertaPiura/pkg/i18n"
	"AlertaPiura/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Body is the envelope used by Success and Fail.
type Body struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func Success(c *gin.Context, msg string, data any) {
	c.JSON(http.StatusOK, Body{Code: http.StatusOK, Message: msg, Data: data})
}

func Fail(c *gin.Context, msg string, data any) {
	c.AbortWithStatusJSON(http.StatusBadRequest, Body{Code: http.StatusBadRequest, Message: msg, Data: data})
}

// Message writes {"message": ...} with the given status, translating msgID
// into the request language.
func Message(c *gin.Context, status int, msgID string) {
	c.JSON(status, gin.H{"message": T(c, msgID)})
}

// Error maps err to a status through its kind. Server-side failures are
// logged and answered with a generic message only.
func Error(c *gin.Context, err error) {
	kind := errors.KindOf(err)
	status := kind.HTTPStatus()
	if status >= http.StatusInternalServerError {
		logger.Error("request failed",
			zap.String("path", c.Request.URL.Path),
			zap.String("kind", kind.String()),
			zap.Error(err))
		c.AbortWithStatusJSON(status, gin.H{"message": T(c, "internal_error")})
		return
	}
	msg := errors.GetMessage(err)
	if id := errors.GetMsgID(err); id != "" {
		msg = T(c, id)
	}
	c.AbortWithStatusJSON(status, gin.H{"message": msg})
}

// Abort writes a translated message and stops the chain.
func Abort(c *gin.Context, status int, msgID string) {
	c.AbortWithStatusJSON(status, gin.H{"message": T(c, msgID)})
}

// T translates msgID using the bundle and language stored by the language
// middleware. Without a bundle it returns msgID.
func T(c *gin.Context, msgID string) string {
	v, ok := c.Get(constants.I18nField)
	if !ok {
		return msgID
	}
	bundle, ok := v.(*i18n.I18nSupport)
	if !ok || bundle == nil {
		return msgID
	}
	return bundle.T(c.GetString(constants.LangField), msgID, nil)
}
