// Package fixture serves a small login site used by the example scenarios
// and the browser tests.
package fixture

import (
	"html/template"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/google/uuid"
)

// Credentials accepted by POST /login.
type Credentials struct {
	Email    string `json:"email" form:"email"`
	Password string `json:"pass" form:"pass"`
}

// DefaultCredentials is the only account the fixture knows.
var DefaultCredentials = Credentials{Email: "demo@example.com", Password: "correct-horse"}

type locale struct {
	Lang            string
	Title           string
	EmailLabel      string
	PasswordLabel   string
	LogIn           string
	Forgotten       string
	CreateAccount   string
	CreatePage      string
	ErrorMessage    string
	RegistrationCTA string
}

var locales = map[string]locale{
	"en": {
		Lang:            "en",
		Title:           "Log in",
		EmailLabel:      "Email address or phone number",
		PasswordLabel:   "Password",
		LogIn:           "Log in",
		Forgotten:       "Forgotten password?",
		CreateAccount:   "Create new account",
		CreatePage:      "Create a Page",
		ErrorMessage:    "The email address or mobile number you entered isn't connected to an account.",
		RegistrationCTA: "Sign Up",
	},
	"es": {
		Lang:            "es",
		Title:           "Iniciar sesión",
		EmailLabel:      "Correo electrónico o número de teléfono",
		PasswordLabel:   "Contraseña",
		LogIn:           "Iniciar sesión",
		Forgotten:       "¿Has olvidado la contraseña?",
		CreateAccount:   "Crear cuenta nueva",
		CreatePage:      "Crear una página",
		ErrorMessage:    "El correo electrónico o el número de móvil que has introducido no está conectado a una cuenta.",
		RegistrationCTA: "Registrarte",
	},
}

var loginTmpl = template.Must(template.New("login").Parse(loginHTML))

// New builds the fixture app accepting creds.
func New(creds Credentials) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "uicheck fixture",
		DisableStartupMessage: true,
	})
	app.Use(recover.New())

	app.Get("/", func(c *fiber.Ctx) error {
		l, ok := locales[strings.ToLower(c.Query("locale"))]
		if !ok {
			l = locales["en"]
		}
		if c.Cookies("datr") == "" {
			c.Cookie(&fiber.Cookie{Name: "datr", Value: token(), Path: "/", HTTPOnly: true})
		}
		c.Type("html", "utf-8")
		return loginTmpl.Execute(c.Response().BodyWriter(), l)
	})

	app.Post("/login", func(c *fiber.Ctx) error {
		var got Credentials
		if err := c.BodyParser(&got); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "malformed credentials"})
		}

		c.Cookie(&fiber.Cookie{Name: "fr", Value: token(), Path: "/", HTTPOnly: true})
		if got.Email != creds.Email || got.Password != creds.Password {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid credentials"})
		}

		c.Cookie(&fiber.Cookie{Name: "c_user", Value: token(), Path: "/"})
		return c.JSON(fiber.Map{"redirect": "/home"})
	})

	app.Get("/home", func(c *fiber.Ctx) error {
		if c.Cookies("c_user") == "" {
			return c.Redirect("/", fiber.StatusFound)
		}
		c.Type("html", "utf-8")
		return c.SendString(homeHTML)
	})

	app.Get("/recover/initiate", func(c *fiber.Ctx) error {
		c.Type("html", "utf-8")
		return c.SendString(simplePage("Find your account", `<input id="identify_email" name="email">`))
	})

	app.Get("/pages/create", func(c *fiber.Ctx) error {
		c.Type("html", "utf-8")
		return c.SendString(simplePage("Create a Page", `<input id="page_name" name="name">`))
	})

	return app
}

func token() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

func simplePage(title, body string) string {
	return `<!DOCTYPE html><html lang="en"><head><meta charset="utf-8"><title>` + title +
		`</title></head><body><h1>` + title + `</h1>` + body + `</body></html>`
}

const homeHTML = `<!DOCTYPE html>
<html lang="en">
<head><meta charset="utf-8"><title>Home</title></head>
<body>
  <nav aria-label="Main"><a href="/home">Home</a></nav>
  <main><h1>Welcome back</h1></main>
</body>
</html>`

const loginHTML = `<!DOCTYPE html>
<html lang="{{.Lang}}">
<head>
  <meta charset="utf-8">
  <title>{{.Title}}</title>
  <style>
    body { font-family: Helvetica, Arial, sans-serif; background: #f0f2f5; }
    form { width: 360px; margin: 40px auto; padding: 16px; background: #fff; border-radius: 8px; }
    input { display: block; width: 100%; box-sizing: border-box; margin: 6px 0; padding: 14px 16px;
            border: 1px solid #f0f0f0; border-radius: 6px; font-size: 17px; }
    button[name=login] { width: 100%; padding: 12px; border: none; border-radius: 6px;
            background-color: #1877f2; color: #fff; font-size: 20px; font-weight: bold; }
    #error_box { display: none; color: #be4b49; margin: 8px 0; }
    [data-testid="open-registration-form-button"] { display: none; }
    .links { text-align: center; margin-top: 12px; }
  </style>
</head>
<body>
  <form id="login_form" action="/login" method="post">
    <div id="error_box" role="alert">{{.ErrorMessage}}</div>
    <input id="email" name="email" type="text" aria-label="{{.EmailLabel}}" placeholder="{{.EmailLabel}}" autofocus>
    <input id="pass" name="pass" type="password" aria-label="{{.PasswordLabel}}" placeholder="{{.PasswordLabel}}">
    <button name="login" type="submit">{{.LogIn}}</button>
    <div class="links">
      <a href="/recover/initiate" title="Forgotten password?">{{.Forgotten}}</a>
    </div>
    <div class="links">
      <a role="button" href="#" id="open-registration">{{.CreateAccount}}</a>
      <div data-testid="open-registration-form-button">{{.RegistrationCTA}}</div>
    </div>
  </form>
  <div class="links">
    <a href="/pages/create">{{.CreatePage}}</a>
  </div>
  <ul class="links" id="locales">
    <li><a href="/?locale=en" title="English (UK)">English (UK)</a></li>
    <li><a href="/?locale=es" title="Español">Español</a></li>
  </ul>
  <script>
    const form = document.getElementById('login_form');
    form.addEventListener('submit', async (ev) => {
      ev.preventDefault();
      const attempts = Number(sessionStorage.getItem('login_attempts') || '0') + 1;
      sessionStorage.setItem('login_attempts', String(attempts));
      const res = await fetch('/login', {
        method: 'POST',
        headers: { 'Content-Type': 'application/json' },
        body: JSON.stringify({ email: form.email.value, pass: form.pass.value }),
      });
      if (res.ok) {
        const body = await res.json();
        window.location.assign(body.redirect);
        return;
      }
      document.getElementById('error_box').style.display = 'block';
    });
    document.getElementById('open-registration').addEventListener('click', (ev) => {
      ev.preventDefault();
      document.querySelector('[data-testid="open-registration-form-button"]').style.display = 'block';
    });
  </script>
</body>
</html>`
