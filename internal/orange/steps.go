package orange

import (
	"net/http"
	"net/url"
	"strings"
)

const (
	userAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/110.0.0.0 Safari/537.36"
	secChUA   = `"Chromium";v="110", "Not A(Brand";v="24", "Google Chrome";v="110"`
	language  = "fr-SN,fr;q=0.9,en-GB;q=0.8,en-US;q=0.7,en;q=0.6"

	formType    = "application/x-www-form-urlencoded"
	formTypeXHR = "application/x-www-form-urlencoded; charset=UTF-8"

	signatureController = "/src/bo/customer/SignatureController.php"
	customerController  = "/src/bo/customer/CustomerController.php"
	userController      = "/src/bo/customer/UserController.php"
	partnerController   = "/src/bo/common/PartnerController.php"
	sendMailEndpoint    = "/app/mail/SendMail.php"
)

// profile selects which browser header set a request replays.
type profile int

const (
	profileBare profile = iota
	profileNavigate
	profileXHR
	profileJSON
)

// step is one request of a scripted exchange with the portal.
type step struct {
	name     string
	endpoint string
	referer  string
	profile  profile
	form     url.Values
}

func (s step) headers(origin string) http.Header {
	h := http.Header{}
	switch s.profile {
	case profileBare:
		h.Set("Content-Type", formType)
		return h
	case profileNavigate:
		h.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,image/apng,*/*;q=0.8,application/signed-exchange;v=b3;q=0.7")
		h.Set("Cache-Control", "max-age=0")
		h.Set("Content-Type", formType)
		h.Set("Sec-Fetch-Dest", "document")
		h.Set("Sec-Fetch-Mode", "navigate")
		h.Set("Upgrade-Insecure-Requests", "1")
		if strings.HasSuffix(s.referer, "signin-lp.php") {
			h.Set("Sec-Fetch-User", "?1")
		}
	case profileXHR:
		h.Set("Accept", "*/*")
		h.Set("Content-Type", formTypeXHR)
		h.Set("Sec-Fetch-Dest", "empty")
		h.Set("Sec-Fetch-Mode", "cors")
		h.Set("X-Requested-With", "XMLHttpRequest")
	case profileJSON:
		h.Set("Accept", "application/json, text/javascript, */*; q=0.01")
		h.Set("Content-Type", formTypeXHR)
		h.Set("Origin", origin)
		h.Set("Referer", origin+s.referer)
		h.Set("User-Agent", userAgent)
		return h
	}
	h.Set("Accept-Language", language)
	h.Set("Connection", "keep-alive")
	h.Set("Origin", origin)
	h.Set("Referer", origin+s.referer)
	h.Set("Sec-Fetch-Site", "same-origin")
	h.Set("User-Agent", userAgent)
	h.Set("sec-ch-ua", secChUA)
	h.Set("sec-ch-ua-mobile", "?0")
	h.Set("sec-ch-ua-platform", `"macOS"`)
	return h
}

func initialCookiesStep(host string) step {
	return step{
		name:     "initial_cookies",
		endpoint: "/cookies.php",
		referer:  "/",
		profile:  profileNavigate,
		form: url.Values{
			"domain":    {strings.TrimPrefix(host, "www.")},
			"subDomain": {host},
		},
	}
}

func signInStep(login, hashedPassword string) step {
	return step{
		name:     "signin",
		endpoint: userController,
		profile:  profileBare,
		form: url.Values{
			"partner":  {"1"},
			"login":    {login},
			"password": {hashedPassword},
			"captcha":  {""},
			"ACTION":   {"SIGNIN"},
		},
	}
}

func homepageStep(login, hashedPassword, host string) step {
	return step{
		name:     "homepage",
		endpoint: "/homepage.php",
		referer:  "/signin-lp.php",
		profile:  profileNavigate,
		form: url.Values{
			"login":     {login},
			"password":  {hashedPassword},
			"captcha":   {"0"},
			"subDomain": {host},
		},
	}
}

func listValidStep(userID, customerID string) step {
	return step{
		name:     "list_valid",
		endpoint: signatureController,
		referer:  "/main.php",
		profile:  profileXHR,
		form:     url.Values{"userId": {userID}, "customerId": {customerID}, "ACTION": {"LIST_VALID"}},
	}
}

func listStep(customerID string) step {
	return step{
		name:     "list",
		endpoint: signatureController,
		referer:  "/main.php",
		profile:  profileXHR,
		form:     url.Values{"customerId": {customerID}, "ACTION": {"LIST"}},
	}
}

func getSessionStep() step {
	return step{
		name:     "get_session",
		endpoint: customerController,
		referer:  "/main.php",
		profile:  profileXHR,
		form:     url.Values{"ACTION": {"GET_SESSION"}},
	}
}

func insertStep(userID, customerID, wording string) step {
	return step{
		name:     "insert",
		endpoint: signatureController,
		referer:  "/main.php",
		profile:  profileJSON,
		form: url.Values{
			"userId":           {userID},
			"customerId":       {customerID},
			"ACTION":           {"INSERT"},
			"libellesignature": {wording},
		},
	}
}

func viewSignatureStep(signatureID string) step {
	return step{
		name:     "view_signature",
		endpoint: signatureController,
		referer:  "/alertsms.php",
		profile:  profileXHR,
		form:     url.Values{"signatureId": {signatureID}, "ACTION": {"VIEW"}},
	}
}

func loadEmailStep() step {
	return step{
		name:     "load_email",
		endpoint: partnerController,
		referer:  "/main.php",
		profile:  profileXHR,
		form:     url.Values{"partnerId": {"1"}, "ACTION": {"LOADEMAIL"}},
	}
}

func viewCustomerStep(customerID string) step {
	return step{
		name:     "view_customer",
		endpoint: customerController,
		referer:  "/main.php",
		profile:  profileXHR,
		form:     url.Values{"partnerId": {"1"}, "customerId": {customerID}, "ACTION": {"VIEW"}},
	}
}

func sendMailStep(company, emails string) step {
	return step{
		name:     "send_mail",
		endpoint: sendMailEndpoint,
		referer:  "/main.php",
		profile:  profileXHR,
		form: url.Values{
			"message": {"Vous avez une nouvelle demande de validation du client " + company},
			"subject": {"Demande de validation de signature"},
			"email":   {emails},
		},
	}
}
