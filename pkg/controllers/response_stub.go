package controllers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

// ResponseStubController is a local delivery sink for development: point
// X-Return-URL at /response and the ejected documents end up in the log.
type ResponseStubController struct {
	logger *logrus.Entry
}

func NewResponseStubController(logger *logrus.Logger) *ResponseStubController {
	return &ResponseStubController{
		logger: logger.WithField("controller", "response_stub"),
	}
}

func (rc *ResponseStubController) HandleResponse(c *fiber.Ctx) error {
	rc.logger.WithFields(logrus.Fields{
		"x_reference":  c.Get("X-Reference"),
		"content_type": c.Get(fiber.HeaderContentType),
		"body_bytes":   len(c.Body()),
	}).Infoln("response received")
	rc.logger.Debugln(string(c.Body()))

	return c.SendStatus(fiber.StatusOK)
}
