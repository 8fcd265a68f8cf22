package auth

import (
	"context"
	"encoding/base64"
	"encoding/xml"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/artifortress/artifortress/pkg/config"
	"github.com/artifortress/artifortress/pkg/errs"
)

const samlStatusSuccess = "urn:oasis:names:tc:SAML:2.0:status:Success"

// SAMLService exchanges IdP assertions for short-lived PATs at the ACS
// endpoint. It validates response status, issuer, audience restriction and
// the assertion validity window, then maps attributes to scopes; transport
// integrity is the deployment's concern (the ACS sits behind TLS).
type SAMLService struct {
	expectedIssuer string
	entityID       string
	idpMetadataURL string
	mappings       []RoleMapping
	tokenTTL       time.Duration
	tokens         *TokenService
	logger         zerolog.Logger
	now            func() time.Time
}

// NewSAMLService builds the ACS from configuration
func NewSAMLService(cfg config.SAMLConfig, tokens *TokenService, logger zerolog.Logger) (*SAMLService, error) {
	mappings, err := ParseRoleMappings(cfg.RoleMappings)
	if err != nil {
		return nil, err
	}
	svc := &SAMLService{
		expectedIssuer: cfg.ExpectedIssuer,
		entityID:       cfg.ServiceProviderEntityID,
		idpMetadataURL: cfg.IdpMetadataURL,
		mappings:       mappings,
		tokenTTL:       time.Duration(cfg.IssuedTokenTTLSeconds) * time.Second,
		tokens:         tokens,
		logger:         logger.With().Str("component", "saml").Logger(),
		now:            time.Now,
	}
	svc.logger.Info().
		Str("entity_id", svc.entityID).
		Str("idp_metadata_url", svc.idpMetadataURL).
		Dur("token_ttl", svc.tokenTTL).
		Msg("SAML exchange enabled")
	return svc, nil
}

// Exchange validates a base64-encoded SAML response and mints a PAT for
// its subject. The caller only ever sees the PAT; downstream requests
// authenticate as an ordinary PAT principal.
func (s *SAMLService) Exchange(ctx context.Context, tenantID uuid.UUID, encodedResponse string) (*IssuedToken, error) {
	if encodedResponse == "" {
		return nil, errs.Validation("SAMLResponse is required")
	}
	raw, err := base64.StdEncoding.DecodeString(encodedResponse)
	if err != nil {
		return nil, errs.Unauthorized("SAMLResponse is not valid base64")
	}
	var resp samlResponse
	if err := xml.Unmarshal(raw, &resp); err != nil {
		return nil, errs.Unauthorized("malformed SAML response")
	}

	if resp.Status.StatusCode.Value != samlStatusSuccess {
		return nil, errs.Unauthorized("SAML response status is not success")
	}
	if resp.Assertion == nil {
		return nil, errs.Unauthorized("SAML response carries no assertion")
	}
	assertion := resp.Assertion

	// The assertion issuer is authoritative; a response-level issuer, when
	// present, must agree.
	if assertion.Issuer != s.expectedIssuer {
		return nil, errs.Unauthorized("SAML issuer mismatch")
	}
	if resp.Issuer != "" && resp.Issuer != s.expectedIssuer {
		return nil, errs.Unauthorized("SAML issuer mismatch")
	}

	if err := s.checkConditions(assertion.Conditions); err != nil {
		return nil, err
	}

	subject := assertion.Subject.NameID
	if subject == "" {
		return nil, errs.Unauthorized("assertion is missing a subject NameID")
	}

	scopes := ApplyRoleMappings(s.mappings, assertion.attributeValues())

	issued, err := s.tokens.IssueForSubject(ctx, tenantID, "saml-acs", subject, scopes, s.tokenTTL)
	if err != nil {
		return nil, err
	}
	s.logger.Info().
		Str("subject", subject).
		Int("scopes", len(scopes)).
		Msg("exchanged SAML assertion for PAT")
	return issued, nil
}

// checkConditions enforces the validity window and audience restriction.
// An assertion without an audience restriction is rejected: every trusted
// IdP in this exchange names the SP it vouches for.
func (s *SAMLService) checkConditions(conditions *samlConditions) error {
	if conditions == nil {
		return errs.Unauthorized("assertion carries no conditions")
	}
	now := s.now()
	if conditions.NotBefore != "" {
		notBefore, err := time.Parse(time.RFC3339, conditions.NotBefore)
		if err != nil {
			return errs.Unauthorized("assertion NotBefore is malformed")
		}
		if now.Before(notBefore) {
			return errs.Unauthorized("assertion is not valid yet")
		}
	}
	if conditions.NotOnOrAfter != "" {
		notOnOrAfter, err := time.Parse(time.RFC3339, conditions.NotOnOrAfter)
		if err != nil {
			return errs.Unauthorized("assertion NotOnOrAfter is malformed")
		}
		if !now.Before(notOnOrAfter) {
			return errs.Unauthorized("assertion is expired")
		}
	}
	if len(conditions.Audiences) == 0 {
		return errs.Unauthorized("assertion carries no audience restriction")
	}
	for _, audience := range conditions.Audiences {
		if audience == s.entityID {
			return nil
		}
	}
	return errs.Unauthorized("assertion audience mismatch")
}

// Metadata renders the SP metadata document. The ACS location depends on
// the externally visible base URL, so the handler supplies it per request.
func (s *SAMLService) Metadata(acsURL string) ([]byte, error) {
	doc := spMetadata{
		EntityID: s.entityID,
		SPSSO: spSSODescriptor{
			ProtocolSupport: "urn:oasis:names:tc:SAML:2.0:protocol",
			ACS: []acsEndpoint{{
				Binding:  "urn:oasis:names:tc:SAML:2.0:bindings:HTTP-POST",
				Location: acsURL,
				Index:    0,
			}},
		},
	}
	out, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), out...), nil
}

// Assertions arrive under IdP-specific namespace prefixes, so the decoding
// structs match on local element names only.

type samlResponse struct {
	XMLName   xml.Name       `xml:"Response"`
	Issuer    string         `xml:"Issuer"`
	Status    samlStatus     `xml:"Status"`
	Assertion *samlAssertion `xml:"Assertion"`
}

type samlStatus struct {
	StatusCode samlStatusCode `xml:"StatusCode"`
}

type samlStatusCode struct {
	Value string `xml:"Value,attr"`
}

type samlAssertion struct {
	Issuer     string          `xml:"Issuer"`
	Subject    samlSubject     `xml:"Subject"`
	Conditions *samlConditions `xml:"Conditions"`
	Attributes []samlAttribute `xml:"AttributeStatement>Attribute"`
}

type samlSubject struct {
	NameID string `xml:"NameID"`
}

type samlConditions struct {
	NotBefore    string   `xml:"NotBefore,attr"`
	NotOnOrAfter string   `xml:"NotOnOrAfter,attr"`
	Audiences    []string `xml:"AudienceRestriction>Audience"`
}

type samlAttribute struct {
	Name   string   `xml:"Name,attr"`
	Values []string `xml:"AttributeValue"`
}

func (a *samlAssertion) attributeValues() map[string][]string {
	values := make(map[string][]string, len(a.Attributes))
	for _, attr := range a.Attributes {
		if attr.Name == "" || len(attr.Values) == 0 {
			continue
		}
		values[attr.Name] = append(values[attr.Name], attr.Values...)
	}
	return values
}

type spMetadata struct {
	XMLName  xml.Name        `xml:"urn:oasis:names:tc:SAML:2.0:metadata EntityDescriptor"`
	EntityID string          `xml:"entityID,attr"`
	SPSSO    spSSODescriptor `xml:"SPSSODescriptor"`
}

type spSSODescriptor struct {
	ProtocolSupport string        `xml:"protocolSupportEnumeration,attr"`
	ACS             []acsEndpoint `xml:"AssertionConsumerService"`
}

type acsEndpoint struct {
	Binding  string `xml:"Binding,attr"`
	Location string `xml:"Location,attr"`
	Index    int    `xml:"index,attr"`
}
