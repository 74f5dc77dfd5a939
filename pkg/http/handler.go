package http

import "github.com/labstack/echo/v4"

// Handler defines HTTP route registration interface.
type Handler interface {
	RegisterRoutes(e *echo.Echo)
}

// Handlers composes several handlers into one.
func Handlers(hs ...Handler) Handler {
	return multiHandler(hs)
}

type multiHandler []Handler

func (m multiHandler) RegisterRoutes(e *echo.Echo) {
	for _, h := range m {
		if h != nil {
			h.RegisterRoutes(e)
		}
	}
}
