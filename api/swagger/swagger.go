package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "GESCO API",
        "description": "Pipeline candidature vers étudiant actif: candidatures, documents, paiements LigdiCash, activation de compte",
        "version": "1.0.0"
    },
    "basePath": "/api/v1",
    "schemes": [
        "http"
    ],
    "tags": [
        {"name": "Candidatures publiques", "description": "Dépôt et suivi des candidatures (sans authentification)"},
        {"name": "Candidatures", "description": "Examen et décision des candidatures (back-office)"},
        {"name": "Paiements", "description": "Initiation d'inscription, tranches et webhook passerelle"},
        {"name": "Plans", "description": "Configuration des plans de paiement"},
        {"name": "Documents", "description": "Pièces justificatives et documents requis"},
        {"name": "Authentification", "description": "Connexion et gestion de session"},
        {"name": "Utilisateurs", "description": "Comptes et rôles"}
    ],
    "paths": {
        "/public/candidatures": {
            "post": {
                "tags": ["Candidatures publiques"],
                "summary": "Créer un brouillon de candidature",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CreateCandidatureRequest"}}
                ],
                "responses": {
                    "201": {"description": "Brouillon créé", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Quota de brouillons atteint ou candidature active existante"}
                }
            }
        },
        "/public/candidatures/{ref}/soumettre": {
            "post": {
                "tags": ["Candidatures publiques"],
                "summary": "Soumettre la candidature",
                "description": "Passe le brouillon en SOUMISE; les autres brouillons du même email sont annulés",
                "parameters": [
                    {"name": "ref", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "Candidature soumise", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "412": {"description": "Documents obligatoires manquants"}
                }
            }
        },
        "/public/candidatures/{ref}/statut": {
            "get": {
                "tags": ["Candidatures publiques"],
                "summary": "Statut de la candidature",
                "parameters": [
                    {"name": "ref", "in": "path", "required": true, "type": "string", "description": "Numéro de candidature"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Candidature introuvable"}
                }
            }
        },
        "/public/candidatures/{ref}/documents": {
            "post": {
                "tags": ["Documents"],
                "summary": "Téléverser une pièce justificative",
                "consumes": ["multipart/form-data"],
                "parameters": [
                    {"name": "ref", "in": "path", "required": true, "type": "string"},
                    {"name": "type_document", "in": "formData", "required": true, "type": "string"},
                    {"name": "fichier", "in": "formData", "required": true, "type": "file"}
                ],
                "responses": {
                    "201": {"description": "Document enregistré", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Format refusé"},
                    "413": {"description": "Fichier trop volumineux"}
                }
            }
        },
        "/public/candidatures/{ref}/offre": {
            "get": {
                "tags": ["Plans"],
                "summary": "Offre de paiement pour une candidature approuvée",
                "parameters": [
                    {"name": "ref", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "Montants unique et échelonné", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/public/candidatures/{ref}/inscription": {
            "post": {
                "tags": ["Paiements"],
                "summary": "Initier l'inscription et ouvrir une session de paiement",
                "parameters": [
                    {"name": "ref", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/InitiateEnrollmentRequest"}}
                ],
                "responses": {
                    "200": {"description": "Session de paiement ouverte", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "401": {"description": "Jeton d'inscription expiré"},
                    "409": {"description": "Paiement déjà en cours"},
                    "502": {"description": "Paiement refusé par la passerelle"},
                    "503": {"description": "Passerelle injoignable"}
                }
            }
        },
        "/public/candidatures/{ref}/tranche-suivante": {
            "post": {
                "tags": ["Paiements"],
                "summary": "Payer la prochaine tranche",
                "parameters": [
                    {"name": "ref", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/NextTrancheRequest"}}
                ],
                "responses": {
                    "200": {"description": "Session de paiement ouverte", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Toutes les tranches sont réglées"}
                }
            }
        },
        "/public/candidatures/{ref}/inscription/statut": {
            "get": {
                "tags": ["Paiements"],
                "summary": "Vérifier l'état de l'inscription",
                "parameters": [
                    {"name": "ref", "in": "path", "required": true, "type": "string"},
                    {"name": "token", "in": "query", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "Action suivante et accès", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/public/documents/{token}": {
            "get": {
                "tags": ["Documents"],
                "summary": "Télécharger un document via URL signée",
                "parameters": [
                    {"name": "token", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "Contenu du fichier"},
                    "403": {"description": "Signature invalide ou expirée"}
                }
            }
        },
        "/paiements/webhook/ligdicash": {
            "post": {
                "tags": ["Paiements"],
                "summary": "Webhook de la passerelle LigdiCash",
                "description": "Livraison au moins une fois; les confirmations sont idempotentes",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/WebhookPayload"}}
                ],
                "responses": {
                    "200": {"description": "Callback pris en compte"},
                    "404": {"description": "Paiement inconnu"}
                }
            }
        },
        "/auth/login": {
            "post": {
                "tags": ["Authentification"],
                "summary": "Connexion",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/LoginRequest"}}
                ],
                "responses": {
                    "200": {"description": "Jetons d'accès", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/candidatures": {
            "get": {
                "tags": ["Candidatures"],
                "summary": "File d'examen des candidatures",
                "parameters": [
                    {"name": "statut", "in": "query", "type": "string"},
                    {"name": "etablissement_id", "in": "query", "type": "string"},
                    {"name": "page", "in": "query", "type": "integer"},
                    {"name": "limit", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/candidatures/{id}/evaluer": {
            "post": {
                "tags": ["Candidatures"],
                "summary": "Approuver ou rejeter une candidature",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/EvaluateRequest"}}
                ],
                "responses": {
                    "200": {"description": "Décision enregistrée", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "403": {"description": "Rôle non autorisé à décider"},
                    "409": {"description": "Candidature déjà décidée"}
                }
            }
        },
        "/plans": {
            "post": {
                "tags": ["Plans"],
                "summary": "Créer un plan de paiement",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CreatePlanRequest"}}
                ],
                "responses": {
                    "201": {"description": "Plan créé", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "422": {"description": "Configuration incohérente (somme des tranches, numérotation)"}
                }
            }
        }
    },
    "definitions": {
        "CreateCandidatureRequest": {
            "type": "object",
            "properties": {
                "prenom": {"type": "string"},
                "nom": {"type": "string"},
                "email": {"type": "string"},
                "telephone": {"type": "string"},
                "etablissement_id": {"type": "string"},
                "filiere_id": {"type": "string"},
                "niveau_id": {"type": "string"},
                "annee_id": {"type": "string"}
            },
            "required": ["prenom", "nom", "email", "telephone"]
        },
        "EvaluateRequest": {
            "type": "object",
            "properties": {
                "decision": {"type": "string", "enum": ["APPROUVEE", "REJETEE"]},
                "motif_rejet": {"type": "string"}
            },
            "required": ["decision"]
        },
        "InitiateEnrollmentRequest": {
            "type": "object",
            "properties": {
                "token_inscription": {"type": "string"},
                "mode_paiement": {"type": "string", "enum": ["UNIQUE", "ECHELONNE"]}
            },
            "required": ["token_inscription", "mode_paiement"]
        },
        "NextTrancheRequest": {
            "type": "object",
            "properties": {
                "token_inscription": {"type": "string"}
            },
            "required": ["token_inscription"]
        },
        "WebhookPayload": {
            "type": "object",
            "properties": {
                "paiement_id": {"type": "string"},
                "external_id": {"type": "string"},
                "token": {"type": "string"},
                "status": {"type": "string"},
                "response_code": {"type": "string"},
                "amount": {"type": "integer"},
                "custom_data": {"type": "object"}
            }
        },
        "CreatePlanRequest": {
            "type": "object",
            "properties": {
                "filiere_id": {"type": "string"},
                "niveau_id": {"type": "string"},
                "annee_id": {"type": "string"},
                "montant_total": {"type": "integer"},
                "remise_unique_pct": {"type": "integer"},
                "frais_echelonnement": {"type": "integer"},
                "autorise_unique": {"type": "boolean"},
                "autorise_echelonne": {"type": "boolean"},
                "tranches": {
                    "type": "array",
                    "items": {"$ref": "#/definitions/TrancheRequest"}
                }
            },
            "required": ["filiere_id", "niveau_id", "annee_id", "montant_total"]
        },
        "TrancheRequest": {
            "type": "object",
            "properties": {
                "numero": {"type": "integer"},
                "nom": {"type": "string"},
                "montant": {"type": "integer"},
                "date_echeance": {"type": "string"},
                "est_premiere": {"type": "boolean"},
                "penalite_retard_pct": {"type": "integer"}
            }
        },
        "LoginRequest": {
            "type": "object",
            "properties": {
                "email": {"type": "string"},
                "mot_de_passe": {"type": "string"}
            },
            "required": ["email", "mot_de_passe"]
        },
        "Pagination": {
            "type": "object",
            "properties": {
                "page": {"type": "integer"},
                "page_size": {"type": "integer"},
                "total_count": {"type": "integer"}
            }
        },
        "APIError": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"},
                "status": {"type": "integer"}
            }
        },
        "ResponseEnvelope": {
            "type": "object",
            "properties": {
                "data": {"type": "object"},
                "error": {"$ref": "#/definitions/APIError"},
                "pagination": {"$ref": "#/definitions/Pagination"},
                "meta": {"type": "object"}
            }
        }
    }
}`

type swaggerDoc struct{}

// ReadDoc returns the Swagger document.
func (s *swaggerDoc) ReadDoc() string {
	return docTemplate
}

func init() {
	swag.Register(swag.Name, &swaggerDoc{})
}
