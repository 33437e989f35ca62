package cloud

import (
	"context"
	"encoding/base64"
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	ecrtypes "github.com/aws/aws-sdk-go-v2/service/ecr/types"
	"github.com/aws/aws-sdk-go-v2/service/eks"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"github.com/docker/docker/api/types/registry"
	"github.com/go-logr/logr"
	"k8s.io/client-go/tools/clientcmd"
	clientcmdapi "k8s.io/client-go/tools/clientcmd/api"
	"kubegems.io/modelimage/pkg/config"
	"kubegems.io/modelimage/pkg/errors"
)

const (
	eksTokenPrefix     = "k8s-aws-v1."
	eksClusterIDHeader = "x-k8s-aws-id"
)

type ECRAPI interface {
	GetAuthorizationToken(ctx context.Context, params *ecr.GetAuthorizationTokenInput, optFns ...func(*ecr.Options)) (*ecr.GetAuthorizationTokenOutput, error)
	DescribeRepositories(ctx context.Context, params *ecr.DescribeRepositoriesInput, optFns ...func(*ecr.Options)) (*ecr.DescribeRepositoriesOutput, error)
	CreateRepository(ctx context.Context, params *ecr.CreateRepositoryInput, optFns ...func(*ecr.Options)) (*ecr.CreateRepositoryOutput, error)
}

type EKSAPI interface {
	DescribeCluster(ctx context.Context, params *eks.DescribeClusterInput, optFns ...func(*eks.Options)) (*eks.DescribeClusterOutput, error)
}

type AWS struct {
	ECR         ECRAPI
	EKS         EKSAPI
	STS         *sts.Client
	Docker      DockerLogin
	Region      string
	KubeContext string
	// KubeconfigPath overrides the default kubeconfig location when set.
	KubeconfigPath string

	auth registry.AuthConfig
}

func NewAWS(ctx context.Context, cfg *config.Config, docker DockerLogin) (*AWS, error) {
	if cfg.AWS.AccessKeyID == "" || cfg.AWS.SecretAccessKey == "" || cfg.AWS.Region == "" {
		return nil, errors.NewConfigInvalidError("access.key.id, secret.access.key and region are required in section [AWS]")
	}
	awscfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.AWS.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AWS.AccessKeyID, cfg.AWS.SecretAccessKey, "")),
	)
	if err != nil {
		return nil, errors.NewConfigInvalidError(fmt.Sprintf("aws config: %v", err))
	}
	return &AWS{
		ECR:         ecr.NewFromConfig(awscfg),
		EKS:         eks.NewFromConfig(awscfg),
		STS:         sts.NewFromConfig(awscfg),
		Docker:      docker,
		Region:      cfg.AWS.Region,
		KubeContext: cfg.KubeContext,
	}, nil
}

func (a *AWS) Name() string {
	return config.ProviderAWS
}

// Login exchanges the ECR authorization token for a docker login and
// refreshes the kubeconfig entry of the EKS cluster named by the context.
func (a *AWS) Login(ctx context.Context) (string, error) {
	log := logr.FromContextOrDiscard(ctx)
	out, err := a.ECR.GetAuthorizationToken(ctx, &ecr.GetAuthorizationTokenInput{})
	if err != nil {
		return "", errors.NewAuthFailedError(a.Name(), err)
	}
	if len(out.AuthorizationData) == 0 {
		return "", errors.NewAuthFailedError(a.Name(), fmt.Errorf("empty authorization data"))
	}
	data := out.AuthorizationData[0]
	username, password, err := DecodeECRToken(aws.ToString(data.AuthorizationToken))
	if err != nil {
		return "", errors.NewAuthFailedError(a.Name(), err)
	}
	endpoint := aws.ToString(data.ProxyEndpoint)
	a.auth = registry.AuthConfig{Username: username, Password: password, ServerAddress: endpoint}
	if a.Docker != nil {
		if err := a.Docker.Login(ctx, a.auth); err != nil {
			return "", errors.NewAuthFailedError(a.Name(), err)
		}
	}
	log.Info("login AWS ECR succeeded", "registry", endpoint)

	if cluster := ClusterName(a.KubeContext); cluster != "" {
		if err := a.UpdateKubeconfig(ctx, cluster); err != nil {
			return "", err
		}
	}
	return endpoint, nil
}

func (a *AWS) AuthConfig() registry.AuthConfig {
	return a.auth
}

// EnsureRepository creates the ECR repository unless it exists.
func (a *AWS) EnsureRepository(ctx context.Context, repository string) error {
	log := logr.FromContextOrDiscard(ctx)
	_, err := a.ECR.DescribeRepositories(ctx, &ecr.DescribeRepositoriesInput{RepositoryNames: []string{repository}})
	if err == nil {
		return nil
	}
	var notfound *ecrtypes.RepositoryNotFoundException
	if !stderrors.As(err, &notfound) {
		return fmt.Errorf("describe ecr repository %s: %w", repository, err)
	}
	log.Info("creating ECR repository", "name", repository)
	if _, err := a.ECR.CreateRepository(ctx, &ecr.CreateRepositoryInput{RepositoryName: aws.String(repository)}); err != nil {
		return fmt.Errorf("create ecr repository %s: %w", repository, err)
	}
	return nil
}

// Token returns a bearer token accepted by the EKS cluster, a presigned
// sts GetCallerIdentity url bound to the cluster name.
func (a *AWS) Token(ctx context.Context, cluster string) (string, error) {
	presigner := sts.NewPresignClient(a.STS)
	req, err := presigner.PresignGetCallerIdentity(ctx, &sts.GetCallerIdentityInput{}, func(po *sts.PresignOptions) {
		po.ClientOptions = append(po.ClientOptions, sts.WithAPIOptions(
			smithyhttp.AddHeaderValue(eksClusterIDHeader, cluster),
		))
	})
	if err != nil {
		return "", errors.NewAuthFailedError(a.Name(), err)
	}
	return eksTokenPrefix + base64.RawURLEncoding.EncodeToString([]byte(req.URL)), nil
}

// UpdateKubeconfig writes cluster, user and context entries for the EKS cluster,
// named after the cluster arn as "aws eks update-kubeconfig" does.
func (a *AWS) UpdateKubeconfig(ctx context.Context, cluster string) error {
	out, err := a.EKS.DescribeCluster(ctx, &eks.DescribeClusterInput{Name: aws.String(cluster)})
	if err != nil {
		return errors.NewAuthFailedError(a.Name(), fmt.Errorf("describe eks cluster %s: %w", cluster, err))
	}
	if out.Cluster == nil {
		return errors.NewAuthFailedError(a.Name(), fmt.Errorf("eks cluster %s not found", cluster))
	}
	ca := []byte{}
	if out.Cluster.CertificateAuthority != nil {
		ca, err = base64.StdEncoding.DecodeString(aws.ToString(out.Cluster.CertificateAuthority.Data))
		if err != nil {
			return fmt.Errorf("decode cluster certificate: %w", err)
		}
	}
	arn := aws.ToString(out.Cluster.Arn)
	if arn == "" {
		arn = cluster
	}

	pathOptions := clientcmd.NewDefaultPathOptions()
	if a.KubeconfigPath != "" {
		pathOptions.GlobalFile = a.KubeconfigPath
		pathOptions.EnvVar = ""
	}
	kubeconfig, err := pathOptions.GetStartingConfig()
	if err != nil {
		return err
	}
	if kubeconfig.Clusters == nil {
		kubeconfig.Clusters = map[string]*clientcmdapi.Cluster{}
	}
	if kubeconfig.AuthInfos == nil {
		kubeconfig.AuthInfos = map[string]*clientcmdapi.AuthInfo{}
	}
	if kubeconfig.Contexts == nil {
		kubeconfig.Contexts = map[string]*clientcmdapi.Context{}
	}
	kubeconfig.Clusters[arn] = &clientcmdapi.Cluster{
		Server:                   aws.ToString(out.Cluster.Endpoint),
		CertificateAuthorityData: ca,
	}
	kubeconfig.AuthInfos[arn] = &clientcmdapi.AuthInfo{
		Exec: &clientcmdapi.ExecConfig{
			APIVersion:      "client.authentication.k8s.io/v1beta1",
			Command:         "aws",
			Args:            []string{"--region", a.Region, "eks", "get-token", "--cluster-name", cluster},
			InteractiveMode: clientcmdapi.IfAvailableExecInteractiveMode,
		},
	}
	kubeconfig.Contexts[arn] = &clientcmdapi.Context{Cluster: arn, AuthInfo: arn}
	kubeconfig.CurrentContext = arn
	logr.FromContextOrDiscard(ctx).Info("updated kubeconfig", "context", arn)
	return clientcmd.ModifyConfig(pathOptions, *kubeconfig, true)
}

// DecodeECRToken splits a base64 "user:password" authorization token.
func DecodeECRToken(token string) (string, string, error) {
	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return "", "", fmt.Errorf("decode ecr token: %w", err)
	}
	username, password, ok := strings.Cut(string(raw), ":")
	if !ok {
		return "", "", fmt.Errorf("malformed ecr token")
	}
	return username, password, nil
}

// ClusterName extracts the EKS cluster name from a context such as
// "arn:aws:eks:us-east-1:123456789012:cluster/scoring".
func ClusterName(kubeContext string) string {
	if kubeContext == "" {
		return ""
	}
	if i := strings.LastIndex(kubeContext, "cluster/"); i >= 0 {
		return kubeContext[i+len("cluster/"):]
	}
	return kubeContext
}
