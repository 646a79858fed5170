package server

import (
	"io/ioutil"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jrife/plover/protocol"
	"github.com/jrife/plover/utils/log"
	"github.com/jrife/plover/utils/uuid"
	"go.uber.org/zap"
)

// ClientNameHeader carries the caller's identity. A caller that omits
// it is assigned a random identity for that request only, so its
// transactions cannot span requests.
const ClientNameHeader = "X-Client-Name"

func (server *Server) handleCommand(c *gin.Context) {
	client := c.GetHeader(ClientNameHeader)

	if client == "" {
		client = uuid.RandomID()
	}

	ctx := log.WithFields(c.Request.Context(),
		zap.String("client", client),
		zap.String("remote_addr", c.ClientIP()))

	body, err := ioutil.ReadAll(c.Request.Body)

	if err != nil {
		server.logger.Warn("could not read request body", zap.Error(err))
		c.String(http.StatusBadRequest, protocol.FormatError(err))

		return
	}

	outcome, err := server.processor.Execute(ctx, string(body), client)

	if err != nil {
		c.String(http.StatusBadRequest, protocol.FormatError(err))

		return
	}

	c.String(http.StatusOK, protocol.FormatSuccess(outcome))
}
