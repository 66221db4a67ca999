// Package stubserver is a local collector backend serving /find_customer and /chat
// with canned replies, for demos and end-to-end runs without the real agent.
package stubserver

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/session"
	"github.com/google/uuid"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

const (
	keyCustomer = "customer_idx"
	keyTurns    = "turns"
)

const (
	replyEmptyName    = "Please provide a customer name to look up."
	replyNoData       = "Error: Loan data not loaded on the server. Cannot look up customer."
	replyNoDataChat   = "Error: Loan data not loaded on the server."
	replyEmptyText    = "I didn't quite catch that. Can you please say that again clearly?"
	replySessionLost  = "It seems like the session state was lost. My apologies. Please try finding the customer by name again."
	shutdownTimeout   = 5 * time.Second
	sessionExpiration = 2 * time.Hour
)

var followUps = []string{
	"I understand, and thank you for telling me. Given that, what amount toward the %s balance would feel manageable right now?",
	"That would help. When do you think you could make that payment toward the %s balance?",
	"Alright. How would you like to send that payment, so I can note it against the %s on your account?",
	"Thank you, I've noted that. Is there anything else that would help you stay on track with the remaining %s?",
}

type lookupRequest struct {
	CustomerName string `json:"customer_name"`
}

type chatRequest struct {
	Text string `json:"text"`
}

// Server serves the backend contract from an in-memory roster.
type Server struct {
	app     *fiber.App
	roster  []Customer
	store   *session.Store
	printer *message.Printer
	logger  *slog.Logger
}

// New builds a server over roster. An empty roster makes every call fail the way
// a backend with no loan data does.
func New(roster []Customer, logger *slog.Logger) *Server {
	s := &Server{
		roster: append([]Customer(nil), roster...),
		store: session.New(session.Config{
			Expiration:   sessionExpiration,
			KeyGenerator: uuid.NewString,
		}),
		printer: message.NewPrinter(language.English),
		logger:  logger,
	}

	app := fiber.New(fiber.Config{
		AppName:               "parley stub backend",
		DisableStartupMessage: true,
	})
	app.Use(s.logRequests)
	app.Get("/", s.handleIndex)
	app.Post("/find_customer", s.handleFindCustomer)
	app.Post("/chat", s.handleChat)

	s.app = app
	return s
}

// App exposes the fiber app, mainly for app.Test.
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen serves on addr until ctx is cancelled.
func (s *Server) Listen(ctx context.Context, addr string) error {
	go func() {
		<-ctx.Done()
		_ = s.app.ShutdownWithTimeout(shutdownTimeout)
	}()
	s.logInfo("stub backend listening", "addr", addr, "customers", len(s.roster))
	return s.app.Listen(addr)
}

func (s *Server) handleIndex(c *fiber.Ctx) error {
	sess, err := s.store.Get(c)
	if err != nil {
		return err
	}
	sess.Delete(keyCustomer)
	sess.Delete(keyTurns)
	if err := sess.Save(); err != nil {
		return err
	}
	return c.SendString("parley stub backend\n")
}

func (s *Server) handleFindCustomer(c *fiber.Ctx) error {
	var req lookupRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"response": replyEmptyName})
	}

	if len(s.roster) == 0 {
		return c.JSON([]any{fiber.Map{"response": replyNoData}, fiber.StatusInternalServerError})
	}

	name := strings.TrimSpace(req.CustomerName)
	if name == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"response": replyEmptyName})
	}

	sess, err := s.store.Get(c)
	if err != nil {
		return err
	}

	idx := s.find(name)
	if idx < 0 {
		sess.Delete(keyCustomer)
		sess.Delete(keyTurns)
		if err := sess.Save(); err != nil {
			return err
		}
		s.logInfo("customer not found", "name", name)
		return c.JSON(fiber.Map{
			"response":       fmt.Sprintf("I couldn't find loan details for a customer named %s. Please confirm the name or provide the Loan ID.", name),
			"customer_found": false,
		})
	}

	sess.Set(keyCustomer, idx)
	sess.Set(keyTurns, 0)
	if err := sess.Save(); err != nil {
		return err
	}

	found := s.roster[idx].Name
	s.logInfo("customer located", "name", found)
	return c.JSON(fiber.Map{
		"response":       fmt.Sprintf("Thank you, I've located the loan file for %s. Please start talking when you're ready to connect with the Apex representative.", found),
		"customer_found": true,
	})
}

func (s *Server) handleChat(c *fiber.Ctx) error {
	var req chatRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"response": replyEmptyText})
	}

	if len(s.roster) == 0 {
		return c.JSON([]any{fiber.Map{"response": replyNoDataChat}, fiber.StatusInternalServerError})
	}

	sess, err := s.store.Get(c)
	if err != nil {
		return err
	}

	idx, ok := sess.Get(keyCustomer).(int)
	if !ok || idx < 0 || idx >= len(s.roster) {
		return c.JSON(fiber.Map{"response": replySessionLost})
	}

	text := strings.TrimSpace(req.Text)
	if text == "" {
		return c.JSON(fiber.Map{"response": replyEmptyText})
	}

	turns, _ := sess.Get(keyTurns).(int)
	sess.Set(keyTurns, turns+1)
	if err := sess.Save(); err != nil {
		return err
	}

	return c.JSON(fiber.Map{"response": s.reply(s.roster[idx], turns)})
}

// reply opens with the customer's name and balance, then cycles through follow-ups.
func (s *Server) reply(customer Customer, turn int) string {
	amount := s.formatAmount(customer.LoanAmount)
	if turn == 0 {
		return fmt.Sprintf("Hello %s, this is Alex from Apex Financial Services. I'm calling about your loan account, which shows an overdue balance of %s. Can we find a way to take care of that today, or set up a manageable plan?", customer.Name, amount)
	}
	return fmt.Sprintf(followUps[(turn-1)%len(followUps)], amount)
}

func (s *Server) formatAmount(amount float64) string {
	return s.printer.Sprintf("$%.2f", amount)
}

func (s *Server) find(name string) int {
	for i, customer := range s.roster {
		if strings.EqualFold(customer.Name, name) {
			return i
		}
	}
	return -1
}

func (s *Server) logRequests(c *fiber.Ctx) error {
	started := time.Now()
	err := c.Next()
	if s.logger != nil {
		s.logger.Debug("stub request",
			"method", c.Method(),
			"path", c.Path(),
			"status", c.Response().StatusCode(),
			"duration_ms", time.Since(started).Milliseconds(),
		)
	}
	return err
}

func (s *Server) logInfo(msg string, args ...any) {
	if s.logger == nil {
		return
	}
	s.logger.Info(msg, args...)
}
